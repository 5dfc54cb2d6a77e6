package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the review state of a report. Transitions are
// pending -> approved or pending -> rejected, both terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// NotificationState tracks the outbound SMS attempt for a report,
// independently of the report status itself.
type NotificationState string

const (
	NotificationNotSent   NotificationState = "not_sent"
	NotificationPending   NotificationState = "pending"
	NotificationSent      NotificationState = "sent"
	NotificationFailed    NotificationState = "failed"
	NotificationNoContact NotificationState = "no_contact"
)

// AnonymousUser is the sentinel identity for unauthenticated submitters.
const (
	AnonymousUserID    = "anonymous"
	AnonymousUserEmail = "anonymous@nologin.com"
	AnonymousUserName  = "Anonymous User"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Prediction is the classifier verdict attached to a report at creation.
// It is produced once and never recomputed.
type Prediction struct {
	IsAccident     bool    `json:"is_accident"`
	Confidence     float64 `json:"confidence"`
	AccidentProb   float64 `json:"accident_probability"`
	NoAccidentProb float64 `json:"non_accident_probability"`
}

// Dispatch carries the ambulance metadata an admin attaches on approval.
type Dispatch struct {
	AmbulanceNumber string `json:"ambulance_number,omitempty"`
	ETAMinutes      int    `json:"ambulance_eta_minutes,omitempty"`
	ETA             string `json:"eta,omitempty"`
	HospitalName    string `json:"hospital_name,omitempty"`
	SeverityLevel   string `json:"severity_level,omitempty"`
}

type Report struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	UserName  string    `json:"user_name"`

	ImageKey      string `json:"image_path,omitempty"`
	ImageFilename string `json:"image_filename,omitempty"`

	Location   Location   `json:"location"`
	Prediction Prediction `json:"prediction"`

	Status      Status     `json:"status"`
	Description string     `json:"description,omitempty"`
	Phone       string     `json:"phone_number,omitempty"`
	AdminNotes  string     `json:"admin_notes,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	Dispatch Dispatch `json:"dispatch,omitempty"`

	NotificationState NotificationState `json:"sms_status"`
	NotifiedAt        *time.Time        `json:"sms_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Owner reports whether the given subject submitted this report.
func (r Report) Owner(subjectID string) bool {
	return r.UserID != "" && r.UserID == subjectID
}

// Stats is the dashboard aggregation over all reports. AccuracyRate is an
// admin-agreement proxy (approved / decided), not ground-truth accuracy.
type Stats struct {
	TotalReports      int     `json:"total_reports"`
	PendingReports    int     `json:"pending_reports"`
	ApprovedReports   int     `json:"approved_reports"`
	RejectedReports   int     `json:"rejected_reports"`
	AccidentsDetected int     `json:"total_accidents_detected"`
	NonAccidents      int     `json:"total_non_accidents"`
	AccuracyRate      float64 `json:"accuracy_rate"`
}
