// Package index implements the synchronization engine that mirrors
// collections and documents into the Brevia vector index.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brevia-ai/brevia-sync/internal/brevia"
	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// Catalog is the subset of the mirror store the synchronizer needs. All
// writes here are quiet: no event path observes them, so a sync write-back
// can never re-enter the synchronizer.
type Catalog interface {
	SetCollectionSync(id, uuid string, updated *time.Time) error
	SetDocumentIndexState(id, status string, updated *time.Time) error
	SetDocumentIndexStatus(id, status string) error
	StreamsForDocument(documentID string) ([]catalog.Stream, error)
	EnqueueJob(job catalog.Job) error
}

// StreamOpener resolves a stream URI to its binary content.
type StreamOpener interface {
	OpenStream(uri string) (io.ReadCloser, error)
}

// LocalStreams opens stream URIs as local filesystem paths.
type LocalStreams struct{}

func (LocalStreams) OpenStream(uri string) (io.ReadCloser, error) {
	return os.Open(uri)
}

// Handler synchronizes collections and documents with the Brevia index.
type Handler struct {
	client  *brevia.Client
	store   Catalog
	streams StreamOpener
	logger  *slog.Logger
}

// NewHandler creates a Handler. If streams is nil, stream URIs are opened
// from the local filesystem.
func NewHandler(client *brevia.Client, store Catalog, streams StreamOpener) *Handler {
	if streams == nil {
		streams = LocalStreams{}
	}
	return &Handler{
		client:  client,
		store:   store,
		streams: streams,
		logger:  slog.Default(),
	}
}

// CreateCollection creates the remote collection, stores the returned
// uuid on the local row and stamps the sync timestamp.
func (h *Handler) CreateCollection(ctx context.Context, collection *catalog.Collection) error {
	h.logger.Info("creating collection", "title", collection.Title)

	resp, err := h.client.Post(ctx, "/collections", collectionBody(collection))
	if err != nil {
		return err
	}
	var created struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(resp, &created); err != nil {
		return fmt.Errorf("parsing collection create response: %w", err)
	}

	now := time.Now().UTC()
	collection.CollectionUUID = created.UUID
	collection.CollectionUpdated = &now
	return h.store.SetCollectionSync(collection.ID, created.UUID, &now)
}

// UpdateCollection patches the remote collection and stamps the sync
// timestamp.
func (h *Handler) UpdateCollection(ctx context.Context, collection *catalog.Collection) error {
	h.logger.Info("updating collection", "title", collection.Title)

	path := fmt.Sprintf("/collections/%s", collection.CollectionUUID)
	if _, err := h.client.Patch(ctx, path, collectionBody(collection)); err != nil {
		return err
	}

	now := time.Now().UTC()
	collection.CollectionUpdated = &now
	return h.store.SetCollectionSync(collection.ID, collection.CollectionUUID, &now)
}

// RemoveCollection deletes the remote collection and clears the local
// uuid. The local collection row itself is untouched.
func (h *Handler) RemoveCollection(ctx context.Context, collection *catalog.Collection) error {
	h.logger.Info("removing collection", "title", collection.Title)

	path := fmt.Sprintf("/collections/%s", collection.CollectionUUID)
	if err := h.client.Delete(ctx, path); err != nil {
		return err
	}
	collection.CollectionUUID = ""
	return h.store.SetCollectionSync(collection.ID, "", collection.CollectionUpdated)
}

// collectionBody builds the {name, cmetadata} payload for the remote
// collection. Bookkeeping fields stay local; empty metadata values are
// dropped; the local id and the deleted flag are always included.
func collectionBody(collection *catalog.Collection) map[string]any {
	cmetadata := map[string]any{}
	for k, v := range collection.Metadata {
		if isEmptyValue(v) {
			continue
		}
		cmetadata[k] = v
	}
	if collection.Title != "" {
		cmetadata["title"] = collection.Title
	}
	if collection.Description != "" {
		cmetadata["description"] = collection.Description
	}
	if len(collection.LinkLoadOptions) > 0 {
		cmetadata["link_load_options"] = collection.LinkLoadOptions
	}
	cmetadata["id"] = collection.ID
	cmetadata["deleted"] = collection.Deleted

	return map[string]any{
		"name":      collection.Name,
		"cmetadata": cmetadata,
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// SyncDocument reacts to a document save event: it classifies the
// change-set and adds, updates or removes the document in the
// collection's index accordingly.
func (h *Handler) SyncDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document, ch ChangeSet, forceAdd bool) error {
	action := Classify(*doc, ch, forceAdd)
	switch action {
	case ActionAdd, ActionUpdate:
		h.logger.Info("indexing document",
			"action", action.String(), "document", doc.Title, "collection", collection.Title)
		return h.AddDocument(ctx, collection, doc, true)
	case ActionRemove:
		return h.RemoveDocument(ctx, collection, doc)
	default:
		return nil
	}
}

// AddDocument upserts a document into the collection's remote index.
// Documents that are not live (status != on, or soft-deleted) are
// skipped: the remote write is a pure upsert and must never push content
// that should not be present.
func (h *Handler) AddDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document, useJob bool) error {
	if doc.Status != catalog.StatusOn || doc.Deleted {
		h.logger.Info("skipping document",
			"document", doc.Title, "status", doc.Status, "deleted", doc.Deleted)
		return nil
	}

	if doc.Kind == catalog.KindFile {
		if useJob {
			return h.UploadDocumentJob(ctx, collection, doc)
		}
		return h.UploadDocument(ctx, collection, doc)
	}

	if doc.Kind == catalog.KindLink {
		metadata := h.resolveMetadata(ctx, collection, doc, map[string]any{"url": doc.URL})
		body := map[string]any{
			"collection_id": collection.CollectionUUID,
			"document_id":   doc.ID,
			"metadata":      metadata,
			"link":          doc.URL,
		}
		if options := scrapeOptions(doc, collection); len(options) > 0 {
			body["options"] = options
		}
		if _, err := h.client.Post(ctx, "/index/link", body); err != nil {
			return err
		}
	} else {
		body := map[string]any{
			"collection_id": collection.CollectionUUID,
			"document_id":   doc.ID,
			"content":       fmt.Sprintf("%s\n%s", doc.Title, StripMarkup(doc.Body)),
			"metadata":      h.resolveMetadata(ctx, collection, doc, nil),
		}
		if _, err := h.client.Post(ctx, "/index", body); err != nil {
			return err
		}
	}

	return h.markIndexed(doc)
}

// RemoveDocument deletes the document from the collection's remote index
// and clears its local index state. Safe to repeat.
func (h *Handler) RemoveDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document) error {
	h.logger.Info("removing document", "document", doc.Title, "collection", collection.Title)

	path := fmt.Sprintf("/index/%s/%s", collection.CollectionUUID, doc.ID)
	if err := h.client.Delete(ctx, path); err != nil {
		return err
	}
	doc.IndexStatus = ""
	doc.IndexUpdated = nil
	return h.store.SetDocumentIndexState(doc.ID, "", nil)
}

// markIndexed records a successful remote write on the document.
func (h *Handler) markIndexed(doc *catalog.Document) error {
	now := time.Now().UTC()
	doc.IndexStatus = catalog.IndexDone
	doc.IndexUpdated = &now
	return h.store.SetDocumentIndexState(doc.ID, catalog.IndexDone, &now)
}

// scrapeOptions returns the scrape options for a link document: the
// explicit extra.options when declared, otherwise the selector resolved
// from the collection's per-URL load-option rules.
func scrapeOptions(doc *catalog.Document, collection *catalog.Collection) map[string]any {
	if doc.Extra != nil && len(doc.Extra.Options) > 0 {
		return doc.Extra.Options
	}
	if selector := SelectorForURL(doc.URL, collection.LinkLoadOptions); selector != "" {
		return map[string]any{"selector": selector}
	}
	return nil
}

// SelectorForURL resolves the scrape selector for a URL from load-option
// rules: an exact URL match wins, then the first prefix match.
func SelectorForURL(url string, rules []catalog.LinkLoadOption) string {
	for _, rule := range rules {
		if rule.URL == url {
			return rule.Selector
		}
	}
	for _, rule := range rules {
		if rule.URL != "" && len(url) >= len(rule.URL) && url[:len(rule.URL)] == rule.URL {
			return rule.Selector
		}
	}
	return ""
}
