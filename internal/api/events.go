// Package api exposes the HTTP surfaces of the sync engine: the webhook
// endpoints the host CMS delivers lifecycle events to, and the MCP tool
// server for operational access.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brevia-ai/brevia-sync/internal/brevia"
	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/events"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

const maxRequestBodySize = 1 << 20 // 1MB

// EventStore is the mirror-store surface the webhook layer needs.
type EventStore interface {
	GetCollection(id string) (catalog.Collection, error)
	PutCollection(c catalog.Collection) error
	GetDocument(id string) (catalog.Document, error)
	PutDocument(d catalog.Document) error
	Link(collectionID, documentID string) error
	Unlink(collectionID, documentID string) error
}

// EventSink receives the lifecycle entry points after the mirror row
// has been upserted.
type EventSink interface {
	OnObjectSaved(ctx context.Context, obj events.Object, ch index.ChangeSet) error
	OnObjectDeleted(ctx context.Context, obj events.Object) error
	OnAssociationChanged(ctx context.Context, name string, owner events.Object, related []events.Object, action string) error
}

type AppDeps struct {
	Store  EventStore
	Events EventSink
	Token  string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/events/object-saved", handleObjectSaved(deps))
		r.Post("/events/object-deleted", handleObjectDeleted(deps))
		r.Post("/events/association-changed", handleAssociationChanged(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Wire representations of CMS objects. The snapshot carries the full
// object state; sync bookkeeping fields stay local and survive upserts.

type collectionPayload struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Title           string                   `json:"title"`
	Description     string                   `json:"description"`
	Metadata        map[string]any           `json:"metadata"`
	LinkLoadOptions []catalog.LinkLoadOption `json:"link_load_options"`
	Deleted         bool                     `json:"deleted"`
}

type documentPayload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Body        string         `json:"body"`
	URL         string         `json:"url"`
	Status      string         `json:"status"`
	Deleted     bool           `json:"deleted"`
	Extra       *catalog.Extra `json:"extra"`
}

type changePayload struct {
	Created bool     `json:"created"`
	Dirty   []string `json:"dirty"`
}

type objectPayload struct {
	Collection *collectionPayload `json:"collection"`
	Document   *documentPayload   `json:"document"`
}

type savedRequest struct {
	objectPayload
	Change changePayload `json:"change"`
}

type associationRequest struct {
	Association string          `json:"association"`
	Action      string          `json:"action"`
	Owner       objectPayload   `json:"owner"`
	Related     []objectPayload `json:"related"`
}

func handleObjectSaved(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req savedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		obj, err := upsertObject(deps.Store, req.objectPayload)
		if err != nil {
			writeEventError(w, err)
			return
		}

		ch := index.ChangeSet{Created: req.Change.Created, Dirty: req.Change.Dirty}
		if err := deps.Events.OnObjectSaved(r.Context(), obj, ch); err != nil {
			writeEventError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleObjectDeleted(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req objectPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		obj, err := loadObject(deps.Store, req)
		if err != nil {
			writeEventError(w, err)
			return
		}

		if err := deps.Events.OnObjectDeleted(r.Context(), obj); err != nil {
			writeEventError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleAssociationChanged(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req associationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		owner, err := loadObject(deps.Store, req.Owner)
		if err != nil {
			writeEventError(w, err)
			return
		}
		related := make([]events.Object, 0, len(req.Related))
		for _, item := range req.Related {
			obj, err := loadObject(deps.Store, item)
			if err != nil {
				writeEventError(w, err)
				return
			}
			if err := mirrorAssociation(deps.Store, req.Action, owner, obj); err != nil {
				writeEventError(w, err)
				return
			}
			related = append(related, obj)
		}

		if err := deps.Events.OnAssociationChanged(r.Context(), req.Association, owner, related, req.Action); err != nil {
			writeEventError(w, err)
			return
		}
		writeOK(w)
	}
}

// upsertObject writes the delivered snapshot into the mirror store,
// preserving the local sync bookkeeping of an existing row.
func upsertObject(store EventStore, payload objectPayload) (events.Object, error) {
	switch {
	case payload.Collection != nil:
		c := payload.Collection
		collection := catalog.Collection{
			ID:              c.ID,
			Name:            c.Name,
			Title:           c.Title,
			Description:     c.Description,
			Metadata:        c.Metadata,
			LinkLoadOptions: c.LinkLoadOptions,
			Deleted:         c.Deleted,
		}
		if existing, err := store.GetCollection(c.ID); err == nil {
			collection.CollectionUUID = existing.CollectionUUID
			collection.CollectionUpdated = existing.CollectionUpdated
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return events.Object{}, err
		}
		if err := store.PutCollection(collection); err != nil {
			return events.Object{}, err
		}
		return events.Object{Collection: &collection}, nil

	case payload.Document != nil:
		d := payload.Document
		doc := catalog.Document{
			ID:          d.ID,
			Kind:        catalog.Kind(d.Type),
			Title:       d.Title,
			Description: d.Description,
			Body:        d.Body,
			URL:         d.URL,
			Status:      d.Status,
			Deleted:     d.Deleted,
			Extra:       d.Extra,
		}
		if existing, err := store.GetDocument(d.ID); err == nil {
			doc.IndexStatus = existing.IndexStatus
			doc.IndexUpdated = existing.IndexUpdated
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return events.Object{}, err
		}
		if err := store.PutDocument(doc); err != nil {
			return events.Object{}, err
		}
		return events.Object{Document: &doc}, nil
	}
	return events.Object{}, fmt.Errorf("event payload carries no object")
}

// loadObject resolves the delivered object against the mirror store so
// the entry points see local sync state; an unknown object falls back to
// the delivered snapshot.
func loadObject(store EventStore, payload objectPayload) (events.Object, error) {
	switch {
	case payload.Collection != nil:
		collection, err := store.GetCollection(payload.Collection.ID)
		if errors.Is(err, catalog.ErrNotFound) {
			return upsertObject(store, payload)
		}
		if err != nil {
			return events.Object{}, err
		}
		return events.Object{Collection: &collection}, nil

	case payload.Document != nil:
		doc, err := store.GetDocument(payload.Document.ID)
		if errors.Is(err, catalog.ErrNotFound) {
			return upsertObject(store, payload)
		}
		if err != nil {
			return events.Object{}, err
		}
		return events.Object{Document: &doc}, nil
	}
	return events.Object{}, fmt.Errorf("event payload carries no object")
}

func mirrorAssociation(store EventStore, action string, owner, related events.Object) error {
	var collectionID, documentID string
	switch {
	case owner.Collection != nil && related.Document != nil:
		collectionID, documentID = owner.Collection.ID, related.Document.ID
	case owner.Document != nil && related.Collection != nil:
		collectionID, documentID = related.Collection.ID, owner.Document.ID
	default:
		return nil
	}
	if action == events.ActionRemove {
		return store.Unlink(collectionID, documentID)
	}
	return store.Link(collectionID, documentID)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeEventError maps a sync failure to the HTTP response: index
// service failures surface as bad gateway, everything else as internal.
func writeEventError(w http.ResponseWriter, err error) {
	var apiErr *brevia.APIError
	if errors.As(err, &apiErr) {
		httpError(w, http.StatusBadGateway, "api_error", "event processing failed: %v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "event processing failed: %v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
