// Package notify delivers best-effort SMS notifications for report
// decisions. Delivery failure is an Outcome, never an error that could
// block or roll back the admin decision it reports on.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeNoContact Outcome = "no_contact"
)

// Context is the report slice a message is rendered from.
type Context struct {
	ReportID        string
	AmbulanceNumber string
	ETAMinutes      int
	HospitalName    string
	SeverityLevel   string
	AdminNotes      string
}

type Dispatcher interface {
	SendApproval(ctx context.Context, phone string, rc Context) Outcome
	SendRejection(ctx context.Context, phone string, rc Context) Outcome
	SendTest(ctx context.Context, phone string) Outcome
	Enabled() bool
}

// NormalizePhone strips whitespace and ensures an international prefix.
// Applying it to an already-normalized number is a no-op.
func NormalizePhone(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.ReplaceAll(phone, " ", "")
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	bare := strings.TrimPrefix(countryCode, "+")
	if strings.HasPrefix(phone, bare) && len(phone) == len(bare)+10 {
		return "+" + phone
	}
	return countryCode + phone
}

func approvalBody(rc Context) string {
	ambulance := rc.AmbulanceNumber
	if ambulance == "" {
		ambulance = "Dispatched"
	}
	hospital := rc.HospitalName
	if hospital == "" {
		hospital = "Nearest Hospital"
	}
	return fmt.Sprintf(
		"ACCIDENT APPROVED\nAmbulance: %s\nETA: %d min\nHospital: %s\nStatus: Help dispatched\nReport ID: %s\nStay safe - Emergency services notified",
		ambulance, rc.ETAMinutes, hospital, shortRef(rc.ReportID),
	)
}

func rejectionBody(rc Context) string {
	notes := rc.AdminNotes
	if notes == "" {
		notes = "No emergency response required"
	}
	if runes := []rune(notes); len(runes) > 50 {
		notes = string(runes[:50])
	}
	return fmt.Sprintf(
		"Report Reviewed - No emergency response\nID: %s\nStatus: %s\nThank you for your report",
		shortRef(rc.ReportID), notes,
	)
}

func testBody(now time.Time) string {
	return fmt.Sprintf(
		"Test Notification - Accident Response System\nIf you receive this, SMS notifications are working correctly.\nTime: %s\nSystem Status: Operational",
		now.Format("2006-01-02 15:04:05"),
	)
}

// shortRef keeps messages compact: the last 6 characters of a report id
// are enough for a citizen to quote back to dispatch.
func shortRef(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
