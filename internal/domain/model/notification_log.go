package model

import "time"

// NotificationLog is an audit row for one reminder attempt.
type NotificationLog struct {
	ID        string
	Subject   ShadowKind
	SubjectID int64
	Milestone Milestone
	Channel   string // template|fallback|none
	Error     string
	CreatedAt time.Time
}
