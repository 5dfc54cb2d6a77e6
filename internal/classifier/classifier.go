package classifier

import (
	"context"
	"errors"
	"net/http"

	"github.com/roadaid/backend/internal/models"
)

// ErrInvalidInput marks bytes that do not look like a supported media type.
var ErrInvalidInput = errors.New("classifier: undecodable input")

// Gateway wraps the external accident/non-accident image model.
type Gateway interface {
	Classify(ctx context.Context, image []byte) (models.Prediction, error)
	// Degraded reports whether the gateway is running without a live model.
	Degraded() bool
}

const (
	minConfidence = 0.60
	maxConfidence = 0.99

	sosConfidence = 0.95
)

// SOSVerdict is the fixed high-confidence verdict assigned when a report
// arrives with no image at all. A panic-button press is itself a strong
// accident signal.
func SOSVerdict() models.Prediction {
	return models.Prediction{
		IsAccident:     true,
		Confidence:     sosConfidence,
		AccidentProb:   sosConfidence,
		NoAccidentProb: 1 - sosConfidence,
	}
}

// StaticGateway serves classifications when no model endpoint is available.
// It always answers with the conservative default so that report submission
// never fails on inference availability.
type StaticGateway struct{}

func NewStaticGateway() *StaticGateway { return &StaticGateway{} }

func (g *StaticGateway) Classify(ctx context.Context, image []byte) (models.Prediction, error) {
	if err := sniff(image); err != nil {
		return models.Prediction{}, err
	}
	return models.Prediction{
		IsAccident:     true,
		Confidence:     0.5,
		AccidentProb:   0.5,
		NoAccidentProb: 0.5,
	}, nil
}

func (g *StaticGateway) Degraded() bool { return true }

var supportedMedia = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"video/webm":      true,
	"video/avi":       true,
	"video/x-msvideo": true,
}

func sniff(image []byte) error {
	if len(image) == 0 {
		return ErrInvalidInput
	}
	if supportedMedia[http.DetectContentType(image)] {
		return nil
	}
	if isQuickTime(image) {
		return nil
	}
	return ErrInvalidInput
}

// isQuickTime detects QuickTime containers by their ftyp box; the stdlib
// sniffer has no signature for them and reports application/octet-stream.
func isQuickTime(b []byte) bool {
	if len(b) < 12 {
		return false
	}
	return string(b[4:8]) == "ftyp" && string(b[8:11]) == "qt "
}

func clampConfidence(c float64) float64 {
	if c < minConfidence {
		return minConfidence
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}
