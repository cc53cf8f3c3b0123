// Package catalog persists the local mirror of CMS content objects:
// collections, documents, their associations, file streams, and async jobs.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Kind discriminates the three document content variants.
type Kind string

const (
	KindDocument Kind = "documents"
	KindLink     Kind = "links"
	KindFile     Kind = "files"
)

// Document lifecycle statuses.
const (
	StatusDraft = "draft"
	StatusOn    = "on"
	StatusOff   = "off"
)

// Index sync statuses.
const (
	IndexProcessing = "processing"
	IndexDone       = "done"
)

// Collection is a logical grouping mirrored 1:1 to a remote index collection.
// CollectionUUID is empty until the collection has been created remotely.
type Collection struct {
	ID                string
	Name              string // unique slug, becomes the remote collection name
	Title             string
	Description       string
	Metadata          map[string]any   // free-form fields, merged into remote cmetadata
	LinkLoadOptions   []LinkLoadOption // per-URL scrape selector rules for link documents
	CollectionUUID    string
	CollectionUpdated *time.Time
	Deleted           bool
}

// LinkLoadOption declares a scrape selector for link documents whose URL
// matches exactly or by prefix.
type LinkLoadOption struct {
	URL      string `json:"url"`
	Selector string `json:"selector"`
}

// Document is an indexable content object. Kind selects which variant
// fields are meaningful: Title/Description/Body for text documents,
// URL for links, attached streams for files.
type Document struct {
	ID           string
	Kind         Kind
	Title        string
	Description  string
	Body         string
	URL          string
	Status       string
	Deleted      bool
	Extra        *Extra
	IndexStatus  string // "", "processing" or "done"
	IndexUpdated *time.Time
}

// Extra carries index-specific overrides declared on the document.
type Extra struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// Stream references the binary attachment of a file document.
type Stream struct {
	ID         string
	DocumentID string
	FileName   string
	MimeType   string
	FileSize   int64
	URI        string
}

// Job is a deferred unit of work in the jobs queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	Priority    int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
