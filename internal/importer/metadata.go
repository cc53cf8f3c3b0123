package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// UpdateMetadata backfills the public file URL into the remote metadata
// of every file document in a named collection. Documents whose remote
// cmetadata already carries a url are left alone; per-document failures
// are logged and skipped.
func (i *Importer) UpdateMetadata(ctx context.Context, collectionName string) (int, error) {
	coll, collectionUUID, err := i.ResolveCollection(ctx, collectionName)
	if err != nil {
		return 0, err
	}
	docs, err := i.store.DocumentsForCollection(coll.ID)
	if err != nil {
		return 0, fmt.Errorf("listing collection documents: %w", err)
	}

	updated := 0
	for _, doc := range docs {
		if doc.Kind != catalog.KindFile {
			continue
		}
		i.logger.Info("updating metadata", "kind", doc.Kind, "title", doc.Title, "id", doc.ID)
		done, err := i.backfillURL(ctx, collectionUUID, doc)
		if err != nil {
			i.logger.Error("metadata update failed", "kind", doc.Kind, "title", doc.Title, "id", doc.ID, "error", err)
			continue
		}
		if done {
			updated++
		}
	}
	return updated, nil
}

func (i *Importer) backfillURL(ctx context.Context, collectionUUID string, doc catalog.Document) (bool, error) {
	raw, err := i.client.Get(ctx, fmt.Sprintf("/index/%s/%s", collectionUUID, doc.ID), nil)
	if err != nil {
		return false, err
	}
	var entries []struct {
		CMetadata map[string]any `json:"cmetadata"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return false, fmt.Errorf("parsing index entry: %w", err)
	}

	metadata := map[string]any{}
	if len(entries) > 0 && entries[0].CMetadata != nil {
		metadata = entries[0].CMetadata
	}
	if u, ok := metadata["url"].(string); ok && u != "" {
		return false, nil
	}

	fileURL, err := i.fileURL(doc)
	if err != nil {
		return false, err
	}
	metadata["url"] = fileURL

	_, err = i.client.Post(ctx, "/index/metadata", map[string]any{
		"collection_id": collectionUUID,
		"document_id":   doc.ID,
		"metadata":      metadata,
	})
	return err == nil, err
}

// fileURL returns the document's public URL, falling back to the URI of
// its first stream.
func (i *Importer) fileURL(doc catalog.Document) (string, error) {
	if doc.URL != "" {
		return doc.URL, nil
	}
	streams, err := i.store.StreamsForDocument(doc.ID)
	if err != nil {
		return "", fmt.Errorf("loading streams: %w", err)
	}
	if len(streams) == 0 {
		return "", fmt.Errorf("document %s has no file URL", doc.ID)
	}
	return streams[0].URI, nil
}
