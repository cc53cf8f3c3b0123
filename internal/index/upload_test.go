package index

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

func writeStreamFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadDocumentNoStreamIsNoOp(t *testing.T) {
	h, api, store := newTestHandler(t, nil)

	doc := catalog.Document{ID: "d1", Kind: catalog.KindFile, Status: catalog.StatusOn}
	store.PutDocument(doc)
	coll := catalog.Collection{ID: "c1", Name: "kb", CollectionUUID: "abc123"}

	if err := h.UploadDocument(context.Background(), &coll, &doc); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if n := api.callCount(); n != 0 {
		t.Errorf("outbound calls = %d, want 0", n)
	}
	stored, _ := store.GetDocument("d1")
	if stored.IndexStatus != "" || stored.IndexUpdated != nil {
		t.Errorf("index state changed: %q %v", stored.IndexStatus, stored.IndexUpdated)
	}
}

func TestUploadDocument(t *testing.T) {
	h, api, store := newTestHandler(t, nil)

	path := writeStreamFile(t, "report.pdf", "%PDF-fake-content")
	doc := catalog.Document{
		ID: "d1", Kind: catalog.KindFile, Title: "Report", Status: catalog.StatusOn,
		Extra: &catalog.Extra{Options: map[string]any{"ocr": true}},
	}
	store.PutDocument(doc)
	store.PutStream(catalog.Stream{
		ID: "s1", DocumentID: "d1", FileName: "report.pdf",
		MimeType: "application/pdf", FileSize: 17, URI: path,
	})
	coll := catalog.Collection{ID: "c1", Name: "kb", CollectionUUID: "abc123"}

	if err := h.UploadDocument(context.Background(), &coll, &doc); err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	calls := api.callsTo(http.MethodPost, "/index/upload")
	if len(calls) != 1 {
		t.Fatalf("POST /index/upload calls = %d", len(calls))
	}
	call := calls[0]
	if !strings.HasPrefix(call.ContentType, "multipart/form-data") {
		t.Fatalf("Content-Type = %q", call.ContentType)
	}

	req, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(string(call.Body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", call.ContentType)
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parsing multipart: %v", err)
	}

	if got := req.FormValue("collection_id"); got != "abc123" {
		t.Errorf("collection_id = %q", got)
	}
	if got := req.FormValue("document_id"); got != "d1" {
		t.Errorf("document_id = %q", got)
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(req.FormValue("metadata")), &metadata); err != nil {
		t.Fatalf("metadata not JSON: %v", err)
	}
	if metadata["file"] != "report.pdf" {
		t.Errorf("metadata.file = %v", metadata["file"])
	}
	var options map[string]any
	if err := json.Unmarshal([]byte(req.FormValue("options")), &options); err != nil {
		t.Fatalf("options not JSON: %v", err)
	}
	if options["ocr"] != true {
		t.Errorf("options = %v", options)
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	defer file.Close()
	if header.Filename != "report.pdf" {
		t.Errorf("filename = %q", header.Filename)
	}
	content, _ := io.ReadAll(file)
	if string(content) != "%PDF-fake-content" {
		t.Errorf("file content = %q", content)
	}

	stored, _ := store.GetDocument("d1")
	if stored.IndexStatus != catalog.IndexDone || stored.IndexUpdated == nil {
		t.Errorf("state = %q %v, want done", stored.IndexStatus, stored.IndexUpdated)
	}
}

func TestUploadDocumentJob(t *testing.T) {
	h, api, store := newTestHandler(t, nil)

	doc := catalog.Document{ID: "d1", Kind: catalog.KindFile, Status: catalog.StatusOn}
	store.PutDocument(doc)
	coll := catalog.Collection{ID: "c1", Name: "kb", CollectionUUID: "abc123"}
	store.PutCollection(coll)

	if err := h.UploadDocumentJob(context.Background(), &coll, &doc); err != nil {
		t.Fatalf("UploadDocumentJob: %v", err)
	}

	// No remote call happens at enqueue time.
	if n := api.callCount(); n != 0 {
		t.Errorf("outbound calls = %d, want 0", n)
	}

	// The document is optimistically processing, sync timestamp untouched.
	stored, _ := store.GetDocument("d1")
	if stored.IndexStatus != catalog.IndexProcessing {
		t.Errorf("IndexStatus = %q, want processing", stored.IndexStatus)
	}
	if stored.IndexUpdated != nil {
		t.Errorf("IndexUpdated = %v, want nil", stored.IndexUpdated)
	}

	job, err := store.ClaimNextJob([]string{JobTypeIndexFile})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob: %v %v", job, err)
	}
	if job.MaxAttempts != 3 || job.Priority != 5 {
		t.Errorf("job = %+v", job)
	}
	var payload IndexFilePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.CollectionID != "c1" || payload.FileID != "d1" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestAddDocumentFileUsesJob(t *testing.T) {
	h, api, store := newTestHandler(t, nil)

	doc := catalog.Document{ID: "d1", Kind: catalog.KindFile, Status: catalog.StatusOn}
	store.PutDocument(doc)
	coll := catalog.Collection{ID: "c1", Name: "kb", CollectionUUID: "abc123"}
	store.PutCollection(coll)

	if err := h.AddDocument(context.Background(), &coll, &doc, true); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if n := api.callCount(); n != 0 {
		t.Errorf("outbound calls = %d, want 0 on async path", n)
	}
	job, _ := store.ClaimNextJob([]string{JobTypeIndexFile})
	if job == nil {
		t.Fatal("expected an enqueued job")
	}
}
