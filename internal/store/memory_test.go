package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/roadaid/backend/internal/models"
)

func seedReport(t *testing.T, m *MemoryStore, userID string) models.Report {
	t.Helper()
	report, err := m.Create(context.Background(), ReportInput{
		UserID:    userID,
		UserEmail: userID + "@example.com",
		UserName:  "Reporter",
		Location:  models.Location{Latitude: 12.9716, Longitude: 77.5946},
		Prediction: models.Prediction{
			IsAccident: true, Confidence: 0.9, AccidentProb: 0.9, NoAccidentProb: 0.1,
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return report
}

func TestMemoryDecideSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	report := seedReport(t, m, "user-1")

	const racers = 16
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.StatusApproved
			if i%2 == 1 {
				status = models.StatusRejected
			}
			_, err := m.UpdateStatus(context.Background(), StatusUpdate{
				ID:         report.ID,
				Status:     status,
				ReviewedBy: "admin",
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyReviewed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if losses != racers-1 {
		t.Fatalf("losses = %d, want %d", losses, racers-1)
	}

	final, err := m.Get(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !final.Status.Terminal() {
		t.Fatalf("final status %s not terminal", final.Status)
	}
	if final.ReviewedAt == nil {
		t.Fatalf("reviewed_at not stamped")
	}
}

func TestMemoryUpdateStatusNotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.UpdateStatus(context.Background(), StatusUpdate{
		ID:     uuid.New(),
		Status: models.StatusApproved,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	mine := seedReport(t, m, "user-1")
	seedReport(t, m, "user-2")
	seedReport(t, m, "user-2")

	byUser, err := m.List(ctx, ListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ID != mine.ID {
		t.Fatalf("list by user returned %d reports", len(byUser))
	}

	if _, err := m.UpdateStatus(ctx, StatusUpdate{ID: mine.ID, Status: models.StatusApproved}); err != nil {
		t.Fatalf("update: %v", err)
	}
	approved := models.StatusApproved
	byStatus, err := m.List(ctx, ListFilter{Status: &approved})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != mine.ID {
		t.Fatalf("status filter returned %d reports", len(byStatus))
	}

	limited, err := m.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit 2 returned %d reports", len(limited))
	}
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a := seedReport(t, m, "user-1")
	b := seedReport(t, m, "user-1")
	seedReport(t, m, "user-2")

	if _, err := m.UpdateStatus(ctx, StatusUpdate{ID: a.ID, Status: models.StatusApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, StatusUpdate{ID: b.ID, Status: models.StatusRejected}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalReports != 3 || st.PendingReports != 1 || st.ApprovedReports != 1 || st.RejectedReports != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.AccuracyRate != 0.5 {
		t.Fatalf("accuracy = %v, want 0.5", st.AccuracyRate)
	}
}
