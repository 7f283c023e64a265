package models

import "time"

// UploadJob is the per-request unit of work carried through the pipeline.
// LocalPath points at the temporary copy of the submitted file; it is removed
// on every exit path once the request finishes.
type UploadJob struct {
	CorrelationID string
	Category      string
	Postcode      string
	Tag           string
	OriginalName  string
	LocalPath     string
}

// UploadResult describes a completed upload.
type UploadResult struct {
	CorrelationID string    `json:"correlation_id"`
	Postcode      string    `json:"postcode"`
	FileName      string    `json:"file_name"`
	ItemID        string    `json:"item_id"`
	URL           string    `json:"url"`
	ShareURL      string    `json:"share_url,omitempty"`
	FolderID      string    `json:"-"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// UploadRecord is a row of the uploads audit table.
type UploadRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Postcode      string    `json:"postcode"`
	Category      string    `json:"category"`
	Tag           string    `json:"tag"`
	FileName      string    `json:"file_name"`
	RemoteURL     string    `json:"remote_url"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	UploadStatusUploaded = "uploaded"
	UploadStatusFailed   = "failed"
)
