package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roadaid/backend/internal/auth"
	"github.com/roadaid/backend/internal/classifier"
	"github.com/roadaid/backend/internal/config"
	"github.com/roadaid/backend/internal/models"
	"github.com/roadaid/backend/internal/notify"
	"github.com/roadaid/backend/internal/service"
	"github.com/roadaid/backend/internal/store"
)

type Server struct {
	cfg      config.Config
	service  *service.Service
	store    store.Store
	verifier *auth.Verifier
}

func New(cfg config.Config, svc *service.Service, st store.Store, verifier *auth.Verifier) *Server {
	return &Server{cfg: cfg, service: svc, store: st, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.verifier.Middleware)

	r.Get("/health", s.handleHealth)

	r.Route("/reports", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/user", s.handleListMine)
		r.Get("/all", s.handleListAll)
		r.Get("/stats/overview", s.handleStats)
		r.Get("/sms-status", s.handleSMSStatus)
		r.With(auth.RequireAdmin).Post("/test-sms", s.handleTestSMS)

		r.Route("/{reportID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Put("/", s.handleUpdateStatus)
			r.Delete("/", s.handleDelete)
			r.Put("/approve", s.handleApprove)
			r.Put("/reject", s.handleReject)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":                  true,
		"time":                time.Now().UTC(),
		"classifier_degraded": s.service.ClassifierDegraded(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	lat, err := strconv.ParseFloat(r.FormValue("latitude"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "latitude required")
		return
	}
	lon, err := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "longitude required")
		return
	}

	req := service.SubmitRequest{
		Identity:    auth.FromContext(r.Context()),
		Latitude:    lat,
		Longitude:   lon,
		Address:     r.FormValue("address"),
		Description: r.FormValue("description"),
		Phone:       r.FormValue("phone_number"),
	}

	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			respondError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		req.Image = data
		req.ImageFilename = header.Filename
	}

	report, err := s.service.Submit(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	reports, err := s.service.ListMine(r.Context(), auth.FromContext(r.Context()), skip, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reportList(reports))
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	var status *models.Status
	if raw := r.URL.Query().Get("status_filter"); raw != "" {
		st := models.Status(strings.ToLower(raw))
		switch st {
		case models.StatusPending, models.StatusApproved, models.StatusRejected:
			status = &st
		default:
			respondError(w, http.StatusBadRequest, "invalid status_filter")
			return
		}
	}
	reports, err := s.service.ListAll(r.Context(), status, skip, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reportList(reports))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	report, err := s.service.Get(r.Context(), id, auth.FromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type statusUpdateRequest struct {
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes"`
}

// handleUpdateStatus is the generic admin-portal endpoint. It funnels into
// the same decision path as approve/reject, so the one-decision guarantee
// cannot be bypassed from here.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var approve bool
	switch models.Status(strings.ToLower(req.Status)) {
	case models.StatusApproved:
		approve = true
	case models.StatusRejected:
		approve = false
	default:
		respondError(w, http.StatusBadRequest, "status must be approved or rejected")
		return
	}
	report, err := s.service.Decide(r.Context(), service.DecideRequest{
		ID:         id,
		Approve:    approve,
		Identity:   auth.FromContext(r.Context()),
		AdminNotes: req.AdminNotes,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	etaMinutes := 0
	if raw := strings.TrimSuffix(strings.TrimSpace(r.FormValue("eta")), " minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "eta must be a minute count")
			return
		}
		etaMinutes = n
	}
	report, err := s.service.Decide(r.Context(), service.DecideRequest{
		ID:              id,
		Approve:         true,
		Identity:        auth.FromContext(r.Context()),
		AmbulanceNumber: r.FormValue("ambulance_number"),
		ETAMinutes:      etaMinutes,
		HospitalName:    r.FormValue("hospital"),
		SeverityLevel:   r.FormValue("severity"),
		AdminNotes:      r.FormValue("admin_notes"),
		Phone:           r.FormValue("phone_number"),
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	report, err := s.service.Decide(r.Context(), service.DecideRequest{
		ID:         id,
		Approve:    false,
		Identity:   auth.FromContext(r.Context()),
		AdminNotes: r.FormValue("admin_notes"),
		Phone:      r.FormValue("phone_number"),
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	if err := s.service.Delete(r.Context(), id, auth.FromContext(r.Context())); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	phone := digitsOnly(r.FormValue("phone_number"))
	if len(phone) != 10 {
		respondError(w, http.StatusBadRequest, "invalid phone number format, provide a 10-digit number")
		return
	}
	target := notify.NormalizePhone(phone, s.cfg.DefaultCountryCode)
	outcome := s.service.SendTestNotification(r.Context(), target)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      outcome == notify.OutcomeSent,
		"outcome":      outcome,
		"phone_number": target,
	})
}

func (s *Server) handleSMSStatus(w http.ResponseWriter, r *http.Request) {
	enabled := s.service.NotificationEnabled()
	msg := "SMS service is ready"
	if !enabled {
		msg = "SMS service disabled - missing provider credentials"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service_enabled":     enabled,
		"provider_configured": s.cfg.SMSEnabled(),
		"message":             msg,
	})
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "report not found")
	case errors.Is(err, store.ErrAlreadyReviewed):
		respondError(w, http.StatusConflict, "report already reviewed")
	case errors.Is(err, service.ErrPermission):
		respondError(w, http.StatusForbidden, "not enough permissions")
	case errors.Is(err, service.ErrUnsupportedMedia):
		respondError(w, http.StatusBadRequest, "unsupported media type")
	case errors.Is(err, service.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, classifier.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "undecodable media")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid report ID")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	skip, _ = strconv.Atoi(q.Get("skip"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if skip < 0 {
		skip = 0
	}
	return skip, limit
}

// reportList keeps empty results as [] instead of null.
func reportList(reports []models.Report) []models.Report {
	if reports == nil {
		return []models.Report{}
	}
	return reports
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
