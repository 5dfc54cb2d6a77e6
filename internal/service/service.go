// Package service orchestrates the report lifecycle: capture, the single
// pending->terminal decision, and best-effort citizen notification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roadaid/backend/internal/auth"
	"github.com/roadaid/backend/internal/blob"
	"github.com/roadaid/backend/internal/classifier"
	"github.com/roadaid/backend/internal/eta"
	"github.com/roadaid/backend/internal/events"
	"github.com/roadaid/backend/internal/models"
	"github.com/roadaid/backend/internal/notify"
	"github.com/roadaid/backend/internal/store"
)

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrPermission       = errors.New("not enough permissions")
	ErrValidation       = errors.New("invalid request")
)

// allowedExtensions is the upload allow-list, checked before any storage
// or classification happens.
var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".mp4": true, ".webm": true, ".mov": true, ".avi": true,
}

type Config struct {
	DispatchPoint        eta.Coordinate
	AllowAnonymousDelete bool
}

type Service struct {
	store      store.Store
	gateway    classifier.Gateway
	dispatcher notify.Dispatcher
	blobs      blob.Store
	publisher  events.Publisher
	cfg        Config
}

func New(st store.Store, gw classifier.Gateway, d notify.Dispatcher, blobs blob.Store, pub events.Publisher, cfg Config) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		store:      st,
		gateway:    gw,
		dispatcher: d,
		blobs:      blobs,
		publisher:  pub,
		cfg:        cfg,
	}
}

type SubmitRequest struct {
	Identity    auth.Identity
	Latitude    float64
	Longitude   float64
	Address     string
	Description string
	Phone       string

	// Image is optional; an empty image means an SOS submission.
	Image         []byte
	ImageFilename string
}

// Submit captures a new report. With an image the classifier verdict is
// attached; without one the fixed SOS verdict is. Classifier transport
// failures degrade to the conservative default rather than failing the
// submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (models.Report, error) {
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		return models.Report{}, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}

	in := store.ReportInput{
		UserID:      req.Identity.SubjectID,
		UserEmail:   req.Identity.Email,
		UserName:    req.Identity.Name,
		Location:    models.Location{Latitude: req.Latitude, Longitude: req.Longitude, Address: req.Address},
		Description: req.Description,
		Phone:       strings.TrimSpace(req.Phone),
	}

	if len(req.Image) > 0 {
		ext := strings.ToLower(filepath.Ext(req.ImageFilename))
		if !allowedExtensions[ext] {
			return models.Report{}, fmt.Errorf("%w: %q", ErrUnsupportedMedia, ext)
		}
		key, err := s.blobs.Put(ctx, req.Identity.SubjectID, req.ImageFilename, req.Image)
		if err != nil {
			return models.Report{}, fmt.Errorf("store upload: %w", err)
		}
		in.ImageKey = key
		in.ImageFilename = filepath.Base(req.ImageFilename)

		pred, err := s.gateway.Classify(ctx, req.Image)
		switch {
		case err == nil:
			in.Prediction = pred
		case errors.Is(err, classifier.ErrInvalidInput):
			// The rejected upload would otherwise be orphaned.
			if delErr := s.blobs.Delete(ctx, key); delErr != nil {
				log.Printf("[service] delete rejected upload %s: %v", key, delErr)
			}
			return models.Report{}, err
		default:
			log.Printf("[service] classifier unavailable, using conservative default: %v", err)
			in.Prediction = models.Prediction{IsAccident: true, Confidence: 0.5, AccidentProb: 0.5, NoAccidentProb: 0.5}
		}
	} else {
		in.Prediction = classifier.SOSVerdict()
	}

	report, err := s.store.Create(ctx, in)
	if err != nil {
		return models.Report{}, err
	}
	s.publish(ctx, events.Event{
		Type:       events.TypeReportCreated,
		ReportID:   report.ID.String(),
		Status:     report.Status,
		IsAccident: report.Prediction.IsAccident,
	})
	return report, nil
}

type DecideRequest struct {
	ID       uuid.UUID
	Approve  bool
	Identity auth.Identity

	// Approval dispatch metadata. ETAMinutes == 0 means "estimate it".
	AmbulanceNumber string
	ETAMinutes      int
	HospitalName    string
	SeverityLevel   string

	AdminNotes string

	// Phone overrides the report's stored number when set.
	Phone string
}

// Decide applies one admin decision. The status transition commits first
// through the store's guarded update; notification delivery afterwards can
// only ever change the notification state, never the decision.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (models.Report, error) {
	current, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return models.Report{}, err
	}

	update := store.StatusUpdate{
		ID:         req.ID,
		Status:     models.StatusRejected,
		AdminNotes: req.AdminNotes,
		ReviewedBy: req.Identity.Email,
	}
	if req.Approve {
		update.Status = models.StatusApproved
		update.Dispatch = models.Dispatch{
			AmbulanceNumber: req.AmbulanceNumber,
			ETAMinutes:      req.ETAMinutes,
			HospitalName:    req.HospitalName,
			SeverityLevel:   req.SeverityLevel,
		}
		if update.Dispatch.SeverityLevel == "" {
			update.Dispatch.SeverityLevel = "moderate"
		}
		if update.Dispatch.ETAMinutes <= 0 {
			est := eta.Estimate(s.cfg.DispatchPoint, eta.Coordinate{
				Lat: current.Location.Latitude,
				Lon: current.Location.Longitude,
			})
			update.Dispatch.ETAMinutes = est.ETAMinutes
			update.Dispatch.ETA = est.EstimatedArrival
		} else {
			update.Dispatch.ETA = fmt.Sprintf("%d minutes", update.Dispatch.ETAMinutes)
		}
	}

	report, err := s.store.UpdateStatus(ctx, update)
	if err != nil {
		// Either unknown id or a concurrent decision won; both pass through.
		return models.Report{}, err
	}

	report = s.notifyDecision(ctx, report, req)

	s.publish(ctx, events.Event{
		Type:              events.TypeReportDecided,
		ReportID:          report.ID.String(),
		Status:            report.Status,
		NotificationState: report.NotificationState,
		IsAccident:        report.Prediction.IsAccident,
	})
	return report, nil
}

// notifyDecision runs after the decision is durable. Every failure path
// lands in the notification state; none of them propagates.
func (s *Service) notifyDecision(ctx context.Context, report models.Report, req DecideRequest) models.Report {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		phone = report.Phone
	}
	if phone == "" {
		updated, err := s.store.SetNotificationState(ctx, report.ID, models.NotificationNoContact, nil)
		if err != nil {
			log.Printf("[service] set notification state: %v", err)
			return report
		}
		return updated
	}

	if updated, err := s.store.SetNotificationState(ctx, report.ID, models.NotificationPending, nil); err != nil {
		log.Printf("[service] set notification state: %v", err)
	} else {
		report = updated
	}

	rc := notify.Context{
		ReportID:        report.ID.String(),
		AmbulanceNumber: report.Dispatch.AmbulanceNumber,
		ETAMinutes:      report.Dispatch.ETAMinutes,
		HospitalName:    report.Dispatch.HospitalName,
		SeverityLevel:   report.Dispatch.SeverityLevel,
		AdminNotes:      report.AdminNotes,
	}
	var outcome notify.Outcome
	if report.Status == models.StatusApproved {
		outcome = s.dispatcher.SendApproval(ctx, phone, rc)
	} else {
		outcome = s.dispatcher.SendRejection(ctx, phone, rc)
	}

	state := models.NotificationFailed
	var sentAt *time.Time
	switch outcome {
	case notify.OutcomeSent:
		state = models.NotificationSent
		now := time.Now().UTC()
		sentAt = &now
	case notify.OutcomeNoContact:
		state = models.NotificationNoContact
	}

	updated, err := s.store.SetNotificationState(ctx, report.ID, state, sentAt)
	if err != nil {
		log.Printf("[service] set notification state: %v", err)
		return report
	}
	return updated
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, identity auth.Identity) (models.Report, error) {
	report, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Report{}, err
	}
	if !identity.IsAdmin && !report.Owner(identity.SubjectID) {
		return models.Report{}, ErrPermission
	}
	return report, nil
}

func (s *Service) ListMine(ctx context.Context, identity auth.Identity, skip, limit int) ([]models.Report, error) {
	return s.store.List(ctx, store.ListFilter{UserID: identity.SubjectID, Skip: skip, Limit: limit})
}

func (s *Service) ListAll(ctx context.Context, status *models.Status, skip, limit int) ([]models.Report, error) {
	return s.store.List(ctx, store.ListFilter{Status: status, Skip: skip, Limit: limit})
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	return s.store.Stats(ctx)
}

// Delete removes a report and, best-effort, its stored media. Anonymous
// deletion is an explicit policy switch, not an accident of fallthrough.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, identity auth.Identity) error {
	report, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if identity.Anonymous {
		if !s.cfg.AllowAnonymousDelete {
			return ErrPermission
		}
	} else if !identity.IsAdmin && !report.Owner(identity.SubjectID) {
		return ErrPermission
	}

	if report.ImageKey != "" {
		if err := s.blobs.Delete(ctx, report.ImageKey); err != nil {
			log.Printf("[service] delete blob %s: %v", report.ImageKey, err)
		}
	}
	return s.store.Delete(ctx, id)
}

// SendTestNotification verifies the SMS path end to end.
func (s *Service) SendTestNotification(ctx context.Context, phone string) notify.Outcome {
	return s.dispatcher.SendTest(ctx, phone)
}

func (s *Service) NotificationEnabled() bool {
	return s.dispatcher.Enabled()
}

func (s *Service) ClassifierDegraded() bool {
	return s.gateway.Degraded()
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[service] publish %s for %s: %v", ev.Type, ev.ReportID, err)
	}
}
