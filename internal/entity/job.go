package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusProcessing  JobStatus = "processing"
	StatusApproved    JobStatus = "approved"
	StatusRejected    JobStatus = "rejected"
	StatusNeedsReview JobStatus = "needs_review"
)

// Terminal reports whether the status admits no further transition.
// needs_review is resolved by humans outside the pipeline; completed_at
// stays unset for it.
func (s JobStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusNeedsReview:
		return true
	}
	return false
}

type Job struct {
	ID                   uuid.UUID  `json:"id"`
	Title                string     `json:"title"`
	Content              string     `json:"content"`
	Author               string     `json:"author"`
	Category             string     `json:"category,omitempty"`
	ServerTag            string     `json:"server_tag,omitempty"`
	Status               JobStatus  `json:"status"`
	AssignedWorker       *string    `json:"assigned_worker,omitempty"`
	DecisionDetail       *string    `json:"decision_detail,omitempty"`
	Score                *float64   `json:"score,omitempty"`
	ReviewReason         *string    `json:"review_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ProcessingDurationMs *int64     `json:"processing_duration_ms,omitempty"`
}

// WorkItem is the queue payload: a snapshot of a job's immutable input
// fields taken at enqueue time. Consumers treat it as the job id plus
// the content to classify and read nothing mutable from it.
type WorkItem struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Category  string    `json:"category,omitempty"`
	ServerTag string    `json:"server_tag,omitempty"`
}

func NewWorkItem(j *Job) WorkItem {
	return WorkItem{
		ID:        j.ID,
		Title:     j.Title,
		Content:   j.Content,
		Author:    j.Author,
		Category:  j.Category,
		ServerTag: j.ServerTag,
	}
}

// Decision is the classifier verdict for one piece of content.
// Score is nil when no scoring call was made (deny-list hit or scoring
// outage); ReviewReason is nil unless the status is needs_review.
type Decision struct {
	Status       JobStatus
	Detail       string
	Score        *float64
	ReviewReason *string
}
