// Package events exposes the entry points the host CMS calls on object
// lifecycle changes. The host event bus is replaced by explicit method
// calls into an injected synchronizer: a save, delete or association
// change arrives here and is routed to the index handler.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

// Association names delivered by the host.
const (
	AssocDocumentOf   = "document_of"   // owner is a document, related are collections
	AssocHasDocuments = "has_documents" // owner is a collection, related are documents
)

// Association change actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Object is a CMS object delivered with an event: exactly one of the
// two fields is set.
type Object struct {
	Collection *catalog.Collection
	Document   *catalog.Document
}

// Synchronizer is the index-handler surface the event entry points use.
type Synchronizer interface {
	CreateCollection(ctx context.Context, collection *catalog.Collection) error
	UpdateCollection(ctx context.Context, collection *catalog.Collection) error
	RemoveCollection(ctx context.Context, collection *catalog.Collection) error
	SyncDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document, ch index.ChangeSet, forceAdd bool) error
	RemoveDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document) error
}

// Memberships resolves which collections a document belongs to.
type Memberships interface {
	CollectionsForDocument(documentID string) ([]catalog.Collection, error)
}

// Handler routes host lifecycle events to the synchronizer.
type Handler struct {
	sync   Synchronizer
	store  Memberships
	logger *slog.Logger
}

func NewHandler(sync Synchronizer, store Memberships) *Handler {
	return &Handler{
		sync:   sync,
		store:  store,
		logger: slog.Default(),
	}
}

// OnObjectSaved handles a saved collection or document. A new collection
// is created remotely, a known one patched. A saved document is resynced
// into every collection it belongs to, according to its change-set.
func (h *Handler) OnObjectSaved(ctx context.Context, obj Object, ch index.ChangeSet) error {
	if obj.Collection != nil {
		if ch.Created {
			return h.sync.CreateCollection(ctx, obj.Collection)
		}
		return h.sync.UpdateCollection(ctx, obj.Collection)
	}
	if obj.Document == nil {
		return nil
	}

	collections, err := h.store.CollectionsForDocument(obj.Document.ID)
	if err != nil {
		return err
	}
	var errs []error
	for i := range collections {
		collection := &collections[i]
		if collection.CollectionUUID == "" {
			h.logger.Warn("collection not yet synced, skipping document",
				"collection", collection.Name, "document", obj.Document.ID)
			continue
		}
		if err := h.sync.SyncDocument(ctx, collection, obj.Document, ch, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnObjectDeleted handles a deleted object. Only collection deletes have
// a direct remote effect: the remote collection is removed. Document
// removal flows through the soft-delete flag on save events.
func (h *Handler) OnObjectDeleted(ctx context.Context, obj Object) error {
	if obj.Collection == nil || obj.Collection.CollectionUUID == "" {
		return nil
	}
	return h.sync.RemoveCollection(ctx, obj.Collection)
}

// OnAssociationChanged handles a document/collection association change.
// Added documents are force-indexed; removed ones are deleted from the
// collection's index.
func (h *Handler) OnAssociationChanged(ctx context.Context, name string, owner Object, related []Object, action string) error {
	if name != AssocDocumentOf && name != AssocHasDocuments {
		return nil
	}

	var errs []error
	for _, item := range related {
		var collection *catalog.Collection
		var doc *catalog.Document
		if name == AssocDocumentOf {
			collection = item.Collection
			doc = owner.Document
		} else {
			collection = owner.Collection
			doc = item.Document
		}
		if collection == nil || doc == nil {
			h.logger.Warn("association event with unexpected object types", "association", name)
			continue
		}
		if collection.CollectionUUID == "" {
			h.logger.Warn("collection not yet synced, skipping document",
				"collection", collection.Name, "document", doc.ID)
			continue
		}

		var err error
		if action == ActionRemove {
			err = h.sync.RemoveDocument(ctx, collection, doc)
		} else {
			err = h.sync.SyncDocument(ctx, collection, doc, index.ChangeSet{}, true)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
