package index

import (
	"testing"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		doc      catalog.Document
		ch       ChangeSet
		forceAdd bool
		want     Action
	}{
		{
			name: "newly created",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{Created: true},
			want: ActionAdd,
		},
		{
			name: "newly created and deleted still resolves to add",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn, Deleted: true},
			ch:   ChangeSet{Created: true, Dirty: []string{"deleted"}},
			want: ActionAdd,
		},
		{
			name: "restored from trash",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"deleted"}},
			want: ActionAdd,
		},
		{
			name: "status transitioned to on",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"status"}},
			want: ActionAdd,
		},
		{
			name:     "forced add",
			doc:      catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:       ChangeSet{},
			forceAdd: true,
			want:     ActionAdd,
		},
		{
			name: "soft deleted",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn, Deleted: true},
			ch:   ChangeSet{Dirty: []string{"deleted"}},
			want: ActionRemove,
		},
		{
			name: "status transitioned to draft",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusDraft},
			ch:   ChangeSet{Dirty: []string{"status"}},
			want: ActionRemove,
		},
		{
			name: "status transitioned to off",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOff},
			ch:   ChangeSet{Dirty: []string{"status"}},
			want: ActionRemove,
		},
		{
			name: "title changed",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"title"}},
			want: ActionUpdate,
		},
		{
			name: "body changed on link",
			doc:  catalog.Document{Kind: catalog.KindLink, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"body"}},
			want: ActionUpdate,
		},
		{
			name: "url changed on link",
			doc:  catalog.Document{Kind: catalog.KindLink, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"url"}},
			want: ActionUpdate,
		},
		{
			name: "content changed on file is a no-op",
			doc:  catalog.Document{Kind: catalog.KindFile, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"title", "description", "body"}},
			want: ActionNone,
		},
		{
			name: "unrelated field changed",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{Dirty: []string{"lang"}},
			want: ActionNone,
		},
		{
			name: "no changes",
			doc:  catalog.Document{Kind: catalog.KindDocument, Status: catalog.StatusOn},
			ch:   ChangeSet{},
			want: ActionNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.doc, tc.ch, tc.forceAdd)
			if got != tc.want {
				t.Errorf("Classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<p>World</p>", "World"},
		{"<div><b>bold</b> and <i>italic</i></div>", "bold and italic"},
		{"<script>alert(1)</script>visible", "visible"},
		{"<style>p{color:red}</style>text", "text"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripMarkup(tc.in); got != tc.want {
			t.Errorf("StripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSelectorForURL(t *testing.T) {
	rules := []catalog.LinkLoadOption{
		{URL: "https://example.com/docs", Selector: "main"},
		{URL: "https://example.com/docs/page", Selector: "article"},
	}

	// Exact match wins over prefix match.
	if got := SelectorForURL("https://example.com/docs/page", rules); got != "article" {
		t.Errorf("exact: got %q", got)
	}
	// Prefix match.
	if got := SelectorForURL("https://example.com/docs/other", rules); got != "main" {
		t.Errorf("prefix: got %q", got)
	}
	// No match.
	if got := SelectorForURL("https://other.net", rules); got != "" {
		t.Errorf("none: got %q", got)
	}
}
