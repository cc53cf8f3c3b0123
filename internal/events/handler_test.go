package events

import (
	"context"
	"errors"
	"testing"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

type call struct {
	op         string
	collection string
	document   string
	forceAdd   bool
}

type mockSync struct {
	calls []call
	fail  map[string]error
}

func (m *mockSync) record(c call) error {
	m.calls = append(m.calls, c)
	if m.fail != nil {
		return m.fail[c.op]
	}
	return nil
}

func (m *mockSync) CreateCollection(ctx context.Context, c *catalog.Collection) error {
	return m.record(call{op: "create", collection: c.ID})
}

func (m *mockSync) UpdateCollection(ctx context.Context, c *catalog.Collection) error {
	return m.record(call{op: "update", collection: c.ID})
}

func (m *mockSync) RemoveCollection(ctx context.Context, c *catalog.Collection) error {
	return m.record(call{op: "removeCollection", collection: c.ID})
}

func (m *mockSync) SyncDocument(ctx context.Context, c *catalog.Collection, d *catalog.Document, ch index.ChangeSet, forceAdd bool) error {
	return m.record(call{op: "sync", collection: c.ID, document: d.ID, forceAdd: forceAdd})
}

func (m *mockSync) RemoveDocument(ctx context.Context, c *catalog.Collection, d *catalog.Document) error {
	return m.record(call{op: "removeDocument", collection: c.ID, document: d.ID})
}

type mockMemberships struct {
	collections []catalog.Collection
}

func (m *mockMemberships) CollectionsForDocument(string) ([]catalog.Collection, error) {
	return m.collections, nil
}

func TestOnObjectSavedCollection(t *testing.T) {
	sync := &mockSync{}
	h := NewHandler(sync, &mockMemberships{})

	coll := &catalog.Collection{ID: "c1", Name: "kb"}
	if err := h.OnObjectSaved(context.Background(), Object{Collection: coll}, index.ChangeSet{Created: true}); err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 1 || sync.calls[0].op != "create" {
		t.Errorf("calls = %+v, want create", sync.calls)
	}

	sync.calls = nil
	if err := h.OnObjectSaved(context.Background(), Object{Collection: coll}, index.ChangeSet{Dirty: []string{"title"}}); err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 1 || sync.calls[0].op != "update" {
		t.Errorf("calls = %+v, want update", sync.calls)
	}
}

func TestOnObjectSavedDocument(t *testing.T) {
	sync := &mockSync{}
	h := NewHandler(sync, &mockMemberships{collections: []catalog.Collection{
		{ID: "c1", Name: "kb", CollectionUUID: "u1"},
		{ID: "c2", Name: "faq", CollectionUUID: "u2"},
		{ID: "c3", Name: "pending"}, // never synced, skipped
	}})

	doc := &catalog.Document{ID: "d1", Kind: catalog.KindDocument, Status: catalog.StatusOn}
	if err := h.OnObjectSaved(context.Background(), Object{Document: doc}, index.ChangeSet{Created: true}); err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 2 {
		t.Fatalf("calls = %+v, want sync into c1 and c2", sync.calls)
	}
	for _, c := range sync.calls {
		if c.op != "sync" || c.document != "d1" {
			t.Errorf("call = %+v", c)
		}
	}
}

func TestOnObjectSavedDocumentAggregatesErrors(t *testing.T) {
	boom := errors.New("boom")
	sync := &mockSync{fail: map[string]error{"sync": boom}}
	h := NewHandler(sync, &mockMemberships{collections: []catalog.Collection{
		{ID: "c1", CollectionUUID: "u1"},
		{ID: "c2", CollectionUUID: "u2"},
	}})

	doc := &catalog.Document{ID: "d1", Kind: catalog.KindDocument}
	err := h.OnObjectSaved(context.Background(), Object{Document: doc}, index.ChangeSet{Created: true})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	// Both collections were still attempted.
	if len(sync.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(sync.calls))
	}
}

func TestOnObjectDeleted(t *testing.T) {
	sync := &mockSync{}
	h := NewHandler(sync, &mockMemberships{})

	// Synced collection: removed remotely.
	coll := &catalog.Collection{ID: "c1", CollectionUUID: "u1"}
	if err := h.OnObjectDeleted(context.Background(), Object{Collection: coll}); err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 1 || sync.calls[0].op != "removeCollection" {
		t.Errorf("calls = %+v", sync.calls)
	}

	// Unsynced collection and plain documents: no-ops.
	sync.calls = nil
	h.OnObjectDeleted(context.Background(), Object{Collection: &catalog.Collection{ID: "c2"}})
	h.OnObjectDeleted(context.Background(), Object{Document: &catalog.Document{ID: "d1"}})
	if len(sync.calls) != 0 {
		t.Errorf("calls = %+v, want none", sync.calls)
	}
}

func TestOnAssociationChanged(t *testing.T) {
	sync := &mockSync{}
	h := NewHandler(sync, &mockMemberships{})

	coll := &catalog.Collection{ID: "c1", CollectionUUID: "u1"}
	doc := &catalog.Document{ID: "d1", Kind: catalog.KindDocument, Status: catalog.StatusOn}

	// has_documents: owner is the collection, related are documents.
	err := h.OnAssociationChanged(context.Background(), AssocHasDocuments,
		Object{Collection: coll}, []Object{{Document: doc}}, ActionAdd)
	if err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 1 || sync.calls[0].op != "sync" || !sync.calls[0].forceAdd {
		t.Errorf("calls = %+v, want forced sync", sync.calls)
	}

	// document_of: owner is the document, related are collections.
	sync.calls = nil
	err = h.OnAssociationChanged(context.Background(), AssocDocumentOf,
		Object{Document: doc}, []Object{{Collection: coll}}, ActionRemove)
	if err != nil {
		t.Fatal(err)
	}
	if len(sync.calls) != 1 || sync.calls[0].op != "removeDocument" {
		t.Errorf("calls = %+v, want removeDocument", sync.calls)
	}

	// Unknown associations are ignored.
	sync.calls = nil
	h.OnAssociationChanged(context.Background(), "tags", Object{Document: doc}, []Object{{Collection: coll}}, ActionAdd)
	if len(sync.calls) != 0 {
		t.Errorf("calls = %+v, want none", sync.calls)
	}
}
