package jobs

import (
	"time"
)

// Status represents the current state of a job.
//
//	created → rasterizing → ocr → captioning → packaged → done
//
// Any non-terminal state may move to failed or cancelled.
type Status string

const (
	StatusCreated     Status = "created"
	StatusRasterizing Status = "rasterizing"
	StatusOCR         Status = "ocr"
	StatusCaptioning  Status = "captioning"
	StatusPackaged    Status = "packaged"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Record is the tracked state of one job.
type Record struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewRecord creates a new job record in the created state.
func NewRecord(id string, metadata map[string]any) *Record {
	return &Record{
		ID:        id,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
}

// clone returns a copy that is safe to hand to callers.
func (r *Record) clone() *Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
