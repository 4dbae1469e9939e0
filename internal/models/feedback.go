package models

import "time"

// Feedback is a participant's short report after (or during) a conversation.
type Feedback struct {
	ReportID   string    `gorm:"primaryKey;type:text" json:"report_id"`
	SessionID  string    `gorm:"type:text;not null;index" json:"session_id"`
	ReporterID string    `gorm:"type:text;not null" json:"reporter_id"`
	Feeling    string    `gorm:"type:text;not null" json:"feeling"`
	Comments   string    `gorm:"type:text" json:"comments"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Feedback) TableName() string { return "user_reports" }
