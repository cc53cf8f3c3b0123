// Package importer implements the bulk flows: CSV import, sitemap
// import, local file import, collection reindex and metadata backfill.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/brevia-ai/brevia-sync/internal/brevia"
	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// Catalog is the slice of the mirror store the importers need.
type Catalog interface {
	GetCollection(id string) (catalog.Collection, error)
	PutDocument(d catalog.Document) error
	GetDocument(id string) (catalog.Document, error)
	Link(collectionID, documentID string) error
	DocumentsForCollection(collectionID string) ([]catalog.Document, error)
	PutStream(st catalog.Stream) error
	StreamsForDocument(documentID string) ([]catalog.Stream, error)
}

// Indexer pushes a document into the vector index.
type Indexer interface {
	AddDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document, useJob bool) error
}

type Importer struct {
	client *brevia.Client
	store  Catalog
	index  Indexer
	logger *slog.Logger
}

func New(client *brevia.Client, store Catalog, index Indexer) *Importer {
	return &Importer{
		client: client,
		store:  store,
		index:  index,
		logger: slog.Default(),
	}
}

// ResolveCollection looks up a collection by its unique name on the
// index service and loads the matching local record through the id
// stored in the remote cmetadata. The remote uuid is returned alongside
// since backfill flows address the index by it.
func (i *Importer) ResolveCollection(ctx context.Context, name string) (catalog.Collection, string, error) {
	raw, err := i.client.Get(ctx, "/collections", url.Values{"name": {name}})
	if err != nil {
		return catalog.Collection{}, "", fmt.Errorf("looking up collection %q: %w", name, err)
	}

	var entries []struct {
		UUID      string         `json:"uuid"`
		CMetadata map[string]any `json:"cmetadata"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return catalog.Collection{}, "", fmt.Errorf("parsing collections response: %w", err)
	}
	if len(entries) == 0 {
		return catalog.Collection{}, "", fmt.Errorf("collection not found: %s", name)
	}
	id, _ := entries[0].CMetadata["id"].(string)
	if id == "" {
		return catalog.Collection{}, "", fmt.Errorf("collection not found: %s", name)
	}

	coll, err := i.store.GetCollection(id)
	if err != nil {
		return catalog.Collection{}, "", fmt.Errorf("loading collection %s: %w", id, err)
	}
	if coll.CollectionUUID == "" {
		coll.CollectionUUID = entries[0].UUID
	}
	return coll, entries[0].UUID, nil
}
