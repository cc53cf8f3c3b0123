package index

import (
	"github.com/brevia-ai/brevia-sync/internal/catalog"
)

// ChangeSet captures what a save event changed on an object: whether the
// object was just created and which fields differ from the stored row.
type ChangeSet struct {
	Created bool
	Dirty   []string
}

// IsDirty reports whether the named field changed in this save.
func (c ChangeSet) IsDirty(field string) bool {
	for _, f := range c.Dirty {
		if f == field {
			return true
		}
	}
	return false
}

// Action is the synchronization decision for a document save event.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionRemove
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionUpdate:
		return "update"
	default:
		return "none"
	}
}

// Fields whose dirtiness triggers a content resync for non-file documents.
var contentFields = []string{"title", "description", "body", "url"}

// Classify decides the index action for a document save. Rules are
// evaluated in priority order: add (creation, restore, publish, forced)
// outranks remove (soft-delete, unpublish), which outranks content
// updates. File documents never resync on content dirtiness.
func Classify(doc catalog.Document, ch ChangeSet, forceAdd bool) Action {
	if ch.Created ||
		(ch.IsDirty("deleted") && !doc.Deleted) ||
		(ch.IsDirty("status") && doc.Status == catalog.StatusOn) ||
		forceAdd {
		return ActionAdd
	}
	if (ch.IsDirty("deleted") && doc.Deleted) ||
		(ch.IsDirty("status") && (doc.Status == catalog.StatusDraft || doc.Status == catalog.StatusOff)) {
		return ActionRemove
	}
	if doc.Kind == catalog.KindFile {
		return ActionNone
	}
	for _, field := range contentFields {
		if ch.IsDirty(field) {
			return ActionUpdate
		}
	}
	return ActionNone
}
