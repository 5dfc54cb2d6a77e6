package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roadaid/backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReviewed is returned when a decision targets a report
	// that already left the pending state. Exactly one of two racing
	// decisions observes pending; the other gets this error.
	ErrAlreadyReviewed = errors.New("report already reviewed")
)

type Store interface {
	Create(ctx context.Context, in ReportInput) (models.Report, error)
	Get(ctx context.Context, id uuid.UUID) (models.Report, error)
	UpdateStatus(ctx context.Context, in StatusUpdate) (models.Report, error)
	SetNotificationState(ctx context.Context, id uuid.UUID, state models.NotificationState, at *time.Time) (models.Report, error)
	List(ctx context.Context, filter ListFilter) ([]models.Report, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (models.Stats, error)
	Ping(ctx context.Context) error
}

type ReportInput struct {
	ID            uuid.UUID
	UserID        string
	UserEmail     string
	UserName      string
	ImageKey      string
	ImageFilename string
	Location      models.Location
	Prediction    models.Prediction
	Description   string
	Phone         string
}

// StatusUpdate carries one admin decision. Status must be terminal;
// Dispatch is only meaningful for approvals.
type StatusUpdate struct {
	ID         uuid.UUID
	Status     models.Status
	AdminNotes string
	ReviewedBy string
	Dispatch   models.Dispatch
}

type ListFilter struct {
	Status *models.Status
	UserID string
	Skip   int
	Limit  int
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the reports table if it does not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS reports (
  id uuid PRIMARY KEY,
  user_id text NOT NULL,
  user_email text NOT NULL,
  user_name text NOT NULL,
  image_key text,
  image_filename text,
  latitude double precision NOT NULL,
  longitude double precision NOT NULL,
  address text,
  is_accident boolean NOT NULL,
  confidence double precision NOT NULL,
  accident_prob double precision NOT NULL,
  non_accident_prob double precision NOT NULL,
  status text NOT NULL DEFAULT 'pending',
  description text,
  phone_number text,
  admin_notes text,
  reviewed_by text,
  reviewed_at timestamptz,
  ambulance_number text,
  eta_minutes integer,
  eta text,
  hospital_name text,
  severity_level text,
  sms_status text NOT NULL DEFAULT 'not_sent',
  sms_sent_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_user_id ON reports (user_id, created_at DESC);
`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

const reportColumns = `id, user_id, user_email, user_name, image_key, image_filename,
	latitude, longitude, address,
	is_accident, confidence, accident_prob, non_accident_prob,
	status, description, phone_number, admin_notes, reviewed_by, reviewed_at,
	ambulance_number, eta_minutes, eta, hospital_name, severity_level,
	sms_status, sms_sent_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (models.Report, error) {
	var (
		r             models.Report
		imageKey      sql.NullString
		imageFilename sql.NullString
		address       sql.NullString
		description   sql.NullString
		phone         sql.NullString
		adminNotes    sql.NullString
		reviewedBy    sql.NullString
		reviewedAt    sql.NullTime
		ambulance     sql.NullString
		etaMinutes    sql.NullInt64
		eta           sql.NullString
		hospital      sql.NullString
		severity      sql.NullString
		notifiedAt    sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.UserID, &r.UserEmail, &r.UserName, &imageKey, &imageFilename,
		&r.Location.Latitude, &r.Location.Longitude, &address,
		&r.Prediction.IsAccident, &r.Prediction.Confidence, &r.Prediction.AccidentProb, &r.Prediction.NoAccidentProb,
		&r.Status, &description, &phone, &adminNotes, &reviewedBy, &reviewedAt,
		&ambulance, &etaMinutes, &eta, &hospital, &severity,
		&r.NotificationState, &notifiedAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return models.Report{}, err
	}
	r.ImageKey = imageKey.String
	r.ImageFilename = imageFilename.String
	r.Location.Address = address.String
	r.Description = description.String
	r.Phone = phone.String
	r.AdminNotes = adminNotes.String
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	r.Dispatch = models.Dispatch{
		AmbulanceNumber: ambulance.String,
		ETAMinutes:      int(etaMinutes.Int64),
		ETA:             eta.String,
		HospitalName:    hospital.String,
		SeverityLevel:   severity.String,
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		r.NotifiedAt = &t
	}
	return r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PGStore) Create(ctx context.Context, in ReportInput) (models.Report, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO reports (id, user_id, user_email, user_name, image_key, image_filename,
			latitude, longitude, address,
			is_accident, confidence, accident_prob, non_accident_prob,
			status, description, phone_number, sms_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING ` + reportColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.UserID, in.UserEmail, in.UserName, nullStr(in.ImageKey), nullStr(in.ImageFilename),
		in.Location.Latitude, in.Location.Longitude, nullStr(in.Location.Address),
		in.Prediction.IsAccident, in.Prediction.Confidence, in.Prediction.AccidentProb, in.Prediction.NoAccidentProb,
		models.StatusPending, nullStr(in.Description), nullStr(in.Phone), models.NotificationNotSent,
	)
	report, err := scanReport(row)
	if err != nil {
		return models.Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id=$1`
	report, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// UpdateStatus applies the pending->terminal transition as a single guarded
// update. The WHERE status='pending' predicate is the serialization point:
// concurrent decisions race on it and at most one row update wins.
func (s *PGStore) UpdateStatus(ctx context.Context, in StatusUpdate) (models.Report, error) {
	if !in.Status.Terminal() {
		return models.Report{}, fmt.Errorf("update status: %q is not a terminal status", in.Status)
	}
	query := `
		UPDATE reports
		SET status=$2,
		    admin_notes=COALESCE($3, admin_notes),
		    reviewed_by=$4,
		    reviewed_at=NOW(),
		    ambulance_number=$5,
		    eta_minutes=$6,
		    eta=$7,
		    hospital_name=$8,
		    severity_level=$9,
		    updated_at=NOW()
		WHERE id=$1 AND status='pending'
		RETURNING ` + reportColumns
	var etaMinutes sql.NullInt64
	if in.Dispatch.ETAMinutes > 0 {
		etaMinutes = sql.NullInt64{Int64: int64(in.Dispatch.ETAMinutes), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.Status, nullStr(in.AdminNotes), nullStr(in.ReviewedBy),
		nullStr(in.Dispatch.AmbulanceNumber), etaMinutes, nullStr(in.Dispatch.ETA),
		nullStr(in.Dispatch.HospitalName), nullStr(in.Dispatch.SeverityLevel),
	)
	report, err := scanReport(row)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Report{}, fmt.Errorf("update status: %w", err)
	}
	// Lost the race or unknown id; a second lookup tells which.
	if _, getErr := s.Get(ctx, in.ID); getErr != nil {
		return models.Report{}, getErr
	}
	return models.Report{}, ErrAlreadyReviewed
}

func (s *PGStore) SetNotificationState(ctx context.Context, id uuid.UUID, state models.NotificationState, at *time.Time) (models.Report, error) {
	query := `
		UPDATE reports
		SET sms_status=$2, sms_sent_at=COALESCE($3, sms_sent_at), updated_at=NOW()
		WHERE id=$1
		RETURNING ` + reportColumns
	var sentAt sql.NullTime
	if at != nil {
		sentAt = sql.NullTime{Time: *at, Valid: true}
	}
	report, err := scanReport(s.db.QueryRowContext(ctx, query, id, state, sentAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, fmt.Errorf("set notification state: %w", err)
	}
	return report, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (s *PGStore) List(ctx context.Context, filter ListFilter) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *filter.Status)
		argPos++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argPos)
		args = append(args, filter.UserID)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, normalizeLimit(filter.Limit))
	argPos++
	if filter.Skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

func (s *PGStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Stats(ctx context.Context) (models.Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status='pending'),
		       COUNT(*) FILTER (WHERE status='approved'),
		       COUNT(*) FILTER (WHERE status='rejected'),
		       COUNT(*) FILTER (WHERE is_accident),
		       COUNT(*) FILTER (WHERE NOT is_accident)
		FROM reports`
	var st models.Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(
		&st.TotalReports, &st.PendingReports, &st.ApprovedReports,
		&st.RejectedReports, &st.AccidentsDetected, &st.NonAccidents,
	); err != nil {
		return models.Stats{}, fmt.Errorf("report stats: %w", err)
	}
	if decided := st.ApprovedReports + st.RejectedReports; decided > 0 {
		st.AccuracyRate = float64(st.ApprovedReports) / float64(decided)
	}
	return st, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
