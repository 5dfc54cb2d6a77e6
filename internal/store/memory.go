package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadaid/backend/internal/models"
)

// MemoryStore is the in-process Store used by tests and by dev mode.
// The mutex makes every mutation atomic, so the decide race has the same
// single-winner semantics as the guarded SQL update.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]models.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: map[uuid.UUID]models.Report{}}
}

func (m *MemoryStore) Create(ctx context.Context, in ReportInput) (models.Report, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	report := models.Report{
		ID:                in.ID,
		UserID:            in.UserID,
		UserEmail:         in.UserEmail,
		UserName:          in.UserName,
		ImageKey:          in.ImageKey,
		ImageFilename:     in.ImageFilename,
		Location:          in.Location,
		Prediction:        in.Prediction,
		Status:            models.StatusPending,
		Description:       in.Description,
		Phone:             in.Phone,
		NotificationState: models.NotificationNotSent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ID] = report
	return report, nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	return report, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, in StatusUpdate) (models.Report, error) {
	if !in.Status.Terminal() {
		return models.Report{}, fmt.Errorf("update status: %q is not a terminal status", in.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[in.ID]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	if report.Status != models.StatusPending {
		return models.Report{}, ErrAlreadyReviewed
	}
	now := time.Now().UTC()
	report.Status = in.Status
	if in.AdminNotes != "" {
		report.AdminNotes = in.AdminNotes
	}
	report.ReviewedBy = in.ReviewedBy
	report.ReviewedAt = &now
	report.Dispatch = in.Dispatch
	report.UpdatedAt = now
	m.reports[in.ID] = report
	return report, nil
}

func (m *MemoryStore) SetNotificationState(ctx context.Context, id uuid.UUID, state models.NotificationState, at *time.Time) (models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	report.NotificationState = state
	if at != nil {
		t := *at
		report.NotifiedAt = &t
	}
	report.UpdatedAt = time.Now().UTC()
	m.reports[id] = report
	return report, nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var reports []models.Report
	for _, report := range m.reports {
		if filter.Status != nil && report.Status != *filter.Status {
			continue
		}
		if filter.UserID != "" && report.UserID != filter.UserID {
			continue
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	start := filter.Skip
	if start < 0 {
		start = 0
	}
	if start > len(reports) {
		start = len(reports)
	}
	end := start + normalizeLimit(filter.Limit)
	if end > len(reports) {
		end = len(reports)
	}
	result := make([]models.Report, end-start)
	copy(result, reports[start:end])
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st models.Stats
	for _, report := range m.reports {
		st.TotalReports++
		switch report.Status {
		case models.StatusPending:
			st.PendingReports++
		case models.StatusApproved:
			st.ApprovedReports++
		case models.StatusRejected:
			st.RejectedReports++
		}
		if report.Prediction.IsAccident {
			st.AccidentsDetected++
		} else {
			st.NonAccidents++
		}
	}
	if decided := st.ApprovedReports + st.RejectedReports; decided > 0 {
		st.AccuracyRate = float64(st.ApprovedReports) / float64(decided)
	}
	return st, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
