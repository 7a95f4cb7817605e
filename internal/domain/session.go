package domain

import "time"

// SessionRecord is the persisted state of a photo session served by the API:
// the cached classification and the conversation transcript. The image is
// resent by the client on every request and never stored.
type SessionRecord struct {
	ID             string
	ImageKey       string // Image.Key of the photo the session describes
	Classification Classification
	Turns          []Turn
	Version        int64 // optimistic locking, starts at 1
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so stores never share turn slices with callers.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Turns = append([]Turn(nil), r.Turns...)
	return &out
}
