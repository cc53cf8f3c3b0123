package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// ImportCSV reads a CSV file with a header row and creates one live text
// document per record, associated to the named collection and indexed
// synchronously. Recognized columns are title, description and body;
// other columns are ignored.
func (i *Importer) ImportCSV(ctx context.Context, path, collectionName string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening CSV file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("reading CSV file: %w", err)
	}
	if len(rows) < 2 {
		return 0, fmt.Errorf("CSV file has no data rows: %s", path)
	}

	coll, _, err := i.ResolveCollection(ctx, collectionName)
	if err != nil {
		return 0, err
	}

	header := rows[0]
	count := 0
	for _, row := range rows[1:] {
		fields := map[string]string{}
		for n, col := range header {
			if n < len(row) {
				fields[col] = row[n]
			}
		}

		doc := catalog.Document{
			ID:          uuid.New().String(),
			Kind:        catalog.KindDocument,
			Title:       fields["title"],
			Description: fields["description"],
			Body:        fields["body"],
			Status:      catalog.StatusOn,
		}
		if err := i.store.PutDocument(doc); err != nil {
			return count, fmt.Errorf("saving document %q: %w", doc.Title, err)
		}
		if err := i.store.Link(coll.ID, doc.ID); err != nil {
			return count, fmt.Errorf("linking document %q: %w", doc.Title, err)
		}
		if err := i.index.AddDocument(ctx, &coll, &doc, false); err != nil {
			return count, fmt.Errorf("indexing document %q: %w", doc.Title, err)
		}
		count++
	}
	return count, nil
}
