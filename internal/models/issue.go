package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusNotStarted IssueStatus = "not_started"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusDone       IssueStatus = "done"
)

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusNotStarted, IssueStatusInProgress, IssueStatusDone:
		return true
	}
	return false
}

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
	IssuePriorityUrgent IssuePriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p IssuePriority) Valid() bool {
	switch p {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityUrgent:
		return true
	}
	return false
}

// IssueStatuses lists every status in workflow order.
var IssueStatuses = []IssueStatus{IssueStatusNotStarted, IssueStatusInProgress, IssueStatusDone}

// IssuePriorities lists every priority from least to most urgent.
var IssuePriorities = []IssuePriority{IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityUrgent}

// Issue is a trackable unit of work.
type Issue struct {
	ID              int64         `json:"id" db:"id"`
	Title           string        `json:"title" db:"title"`
	Description     string        `json:"description" db:"description"`
	Status          IssueStatus   `json:"status" db:"status"`
	Priority        IssuePriority `json:"priority" db:"priority"`
	AssignedUserID  *string       `json:"assigned_user_id" db:"assigned_user_id"`
	CreatedByUserID string        `json:"created_by_user_id" db:"created_by_user_id"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time     `json:"updatedAt" db:"updated_at"`

	CreatedByUser *User `json:"created_by_user,omitempty" db:"-"`
	AssignedUser  *User `json:"assigned_user,omitempty" db:"-"`
	Tags          []Tag `json:"tags" db:"-"`
}

// TagIDs returns the ids of the issue's loaded tags.
func (i *Issue) TagIDs() []int64 {
	ids := make([]int64, 0, len(i.Tags))
	for _, t := range i.Tags {
		ids = append(ids, t.ID)
	}
	return ids
}
