package models

import "time"

// BugStatus is the lifecycle state of a BugReport.
type BugStatus string

const (
	BugOpen       BugStatus = "open"
	BugInProgress BugStatus = "in_progress"
	BugResolved   BugStatus = "resolved"
	BugWontFix    BugStatus = "wontfix"
	BugDuplicate  BugStatus = "duplicate"
)

// BugPriority ranks urgency for triage.
type BugPriority string

const (
	BugLow      BugPriority = "low"
	BugNormal   BugPriority = "normal"
	BugHigh     BugPriority = "high"
	BugCritical BugPriority = "critical"
)

// BugReport is a persisted ticket created via the bug_report tool.
type BugReport struct {
	ID             int64
	Reporter       string
	Channel        string
	Description    string
	Status         BugStatus
	Priority       BugPriority
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedBy     string
	ResolutionNote string
}
