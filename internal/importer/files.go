package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

const maxDerivedTitle = 120

// ImportFiles ingests local files as file documents with one stream
// each, associated to the named collection. With async set the index
// upload is deferred to a job; otherwise it runs inline. PDF files with
// readable text get their title derived from the first text line.
func (i *Importer) ImportFiles(ctx context.Context, collectionName string, paths []string, async bool) (int, error) {
	coll, _, err := i.ResolveCollection(ctx, collectionName)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return count, fmt.Errorf("resolving path %s: %w", p, err)
		}
		stream, err := localStream(abs)
		if err != nil {
			return count, err
		}

		title := stream.FileName
		if strings.EqualFold(filepath.Ext(abs), ".pdf") {
			if t := pdfTitle(abs); t != "" {
				title = t
			}
		}

		doc := catalog.Document{
			ID:     uuid.New().String(),
			Kind:   catalog.KindFile,
			Title:  title,
			Status: catalog.StatusOn,
		}
		stream.DocumentID = doc.ID

		if err := i.store.PutDocument(doc); err != nil {
			return count, fmt.Errorf("saving document for %s: %w", p, err)
		}
		if err := i.store.PutStream(stream); err != nil {
			return count, fmt.Errorf("saving stream for %s: %w", p, err)
		}
		if err := i.store.Link(coll.ID, doc.ID); err != nil {
			return count, fmt.Errorf("linking %s: %w", p, err)
		}
		if err := i.index.AddDocument(ctx, &coll, &doc, async); err != nil {
			return count, fmt.Errorf("indexing %s: %w", p, err)
		}
		count++
	}
	return count, nil
}

func localStream(abs string) (catalog.Stream, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return catalog.Stream{}, fmt.Errorf("reading file %s: %w", abs, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(abs))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return catalog.Stream{
		ID:       uuid.New().String(),
		FileName: filepath.Base(abs),
		MimeType: mimeType,
		FileSize: info.Size(),
		URI:      abs,
	}, nil
}

// pdfTitle extracts the first non-empty text line of a PDF. Returns ""
// when the file cannot be parsed or holds no readable text.
func pdfTitle(path string) string {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, text); err != nil {
		return ""
	}
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxDerivedTitle {
			line = line[:maxDerivedTitle]
		}
		return line
	}
	return ""
}
