package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// JobTypeIndexFile is the job type consumed by the upload worker.
const JobTypeIndexFile = "index_file"

// IndexFilePayload is the payload of an index_file job.
type IndexFilePayload struct {
	CollectionID string `json:"collection_id"`
	FileID       string `json:"file_id"`
}

// UploadDocument uploads a file document's binary stream to the index
// synchronously. A document without streams is a valid empty state and
// a silent no-op, not an error.
func (h *Handler) UploadDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document) error {
	streams, err := h.store.StreamsForDocument(doc.ID)
	if err != nil {
		return fmt.Errorf("loading streams for document %s: %w", doc.ID, err)
	}
	if len(streams) == 0 {
		return nil
	}
	stream := streams[0]

	file, err := h.streams.OpenStream(stream.URI)
	if err != nil {
		return fmt.Errorf("opening stream %s: %w", stream.URI, err)
	}
	defer file.Close()

	metadata := h.resolveMetadata(ctx, collection, doc, map[string]any{"file": stream.FileName})
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreatePart(fileHeader(stream))
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("reading stream %s: %w", stream.URI, err)
	}

	fields := map[string]string{
		"collection_id": collection.CollectionUUID,
		"document_id":   doc.ID,
		"metadata":      string(metadataJSON),
	}
	if doc.Extra != nil && len(doc.Extra.Options) > 0 {
		optionsJSON, err := json.Marshal(doc.Extra.Options)
		if err != nil {
			return fmt.Errorf("marshaling options: %w", err)
		}
		fields["options"] = string(optionsJSON)
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return fmt.Errorf("writing form field %s: %w", name, err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("finishing form: %w", err)
	}

	if _, err := h.client.PostMultipart(ctx, "/index/upload", form.FormDataContentType(), &buf); err != nil {
		return err
	}
	return h.markIndexed(doc)
}

func fileHeader(stream catalog.Stream) textproto.MIMEHeader {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(stream.FileName)))
	mimeType := stream.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	return header
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// UploadDocumentJob enqueues an async index_file job for a file document
// and optimistically marks it processing. The sync timestamp is not
// touched until the upload actually succeeds.
func (h *Handler) UploadDocumentJob(ctx context.Context, collection *catalog.Collection, doc *catalog.Document) error {
	payload, err := json.Marshal(IndexFilePayload{
		CollectionID: collection.ID,
		FileID:       doc.ID,
	})
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}
	job := catalog.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIndexFile,
		PayloadJSON: string(payload),
		MaxAttempts: 3,
		Priority:    5,
	}
	if err := h.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueuing index job: %w", err)
	}

	doc.IndexStatus = catalog.IndexProcessing
	return h.store.SetDocumentIndexStatus(doc.ID, catalog.IndexProcessing)
}
