// Package docstore mirrors memos into the owner's external document store.
// Google Drive is the only store: memos are uploaded as HTML and converted
// to Google Docs inside a dedicated folder.
package docstore

import (
	"errors"
	"time"
)

// StageFile names the filing stage in errors and metrics.
const StageFile = "file"

// ErrNotConnected means the owner has no usable document store integration.
// Callers treat it as "nothing to do", not as a failure.
var ErrNotConnected = errors.New("document store not connected")

// Document is a memo as it is filed.
type Document struct {
	Title        string
	Category     string
	CompanyName  string
	Summary      string
	Content      string
	MeetingDate  *time.Time
	Participants []string
	// DocumentID is set when the memo was filed before; the document is
	// updated in place.
	DocumentID string
}

// Filed identifies the stored document.
type Filed struct {
	DocumentID string
	URL        string
	FolderID   string
}
