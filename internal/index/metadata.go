package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// resolveMetadata computes the metadata sent with an index write.
//
// The starting point is extra.metadata declared on the document, or
// {type: <kind>} when absent. When the document already has a remote
// index entry its cmetadata overrides the local declaration: metadata
// edited through the index service's own API must survive routine
// resyncs. Explicit additions from the caller are applied last and
// always win. A failed remote read falls back to the local metadata.
func (h *Handler) resolveMetadata(ctx context.Context, collection *catalog.Collection, doc *catalog.Document, add map[string]any) map[string]any {
	metadata := map[string]any{"type": string(doc.Kind)}
	if doc.Extra != nil && len(doc.Extra.Metadata) > 0 {
		metadata = make(map[string]any, len(doc.Extra.Metadata))
		for k, v := range doc.Extra.Metadata {
			metadata[k] = v
		}
	}

	path := fmt.Sprintf("/index/%s/%s", collection.CollectionUUID, doc.ID)
	resp, err := h.client.Get(ctx, path, nil)
	if err != nil {
		h.logger.Warn("remote metadata read failed, using local metadata",
			"document", doc.ID, "error", err)
	} else {
		var entries []struct {
			CMetadata map[string]any `json:"cmetadata"`
		}
		if err := json.Unmarshal(resp, &entries); err == nil &&
			len(entries) > 0 && len(entries[0].CMetadata) > 0 {
			metadata = entries[0].CMetadata
		}
	}

	for k, v := range add {
		metadata[k] = v
	}
	return metadata
}
