package domain

import "time"

// UploadedAsset is the photo attached to a ticket. StoredName is a bare
// filename inside the upload directory, never a path.
type UploadedAsset struct {
	TicketID    string
	StoredName  string
	ContentType string
	SizeBytes   int64
	Digest      string
	CreatedAt   time.Time
}
