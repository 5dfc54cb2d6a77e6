package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/roadaid/backend/internal/models"
)

type HTTPGatewayConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPGateway posts raw media bytes to an inference service and maps its
// response to a Prediction. Input normalization to the model's fixed shape
// happens service-side; the gateway only rejects bytes it cannot identify
// as a supported media type.
type HTTPGateway struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("classifier base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/predict"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPGateway{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

// Probe checks the inference service health endpoint. Callers use a failed
// probe at startup to fall back to the degraded StaticGateway.
func (g *HTTPGateway) Probe(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("classifier build probe: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("classifier probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier probe: %s", resp.Status)
	}
	return nil
}

const probSumEpsilon = 0.01

type predictResponse struct {
	IsAccident     bool    `json:"is_accident"`
	Confidence     float64 `json:"confidence"`
	AccidentProb   float64 `json:"accident_probability"`
	NoAccidentProb float64 `json:"non_accident_probability"`
}

func (g *HTTPGateway) Classify(ctx context.Context, image []byte) (models.Prediction, error) {
	if err := sniff(image); err != nil {
		return models.Prediction{}, err
	}

	attempts := g.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return models.Prediction{}, ctx.Err()
		}
		pred, err := g.attempt(ctx, image)
		if err == nil {
			return pred, nil
		}
		if errors.Is(err, ErrInvalidInput) {
			return models.Prediction{}, err
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return models.Prediction{}, fmt.Errorf("classifier predict failed: %w", lastErr)
}

// attempt does one predict round trip. The per-attempt context stays alive
// until the response body is fully decoded; canceling earlier would cut off
// a body still streaming in.
func (g *HTTPGateway) attempt(ctx context.Context, image []byte) (models.Prediction, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.baseURL+g.path, bytes.NewReader(image))
	if err != nil {
		return models.Prediction{}, fmt.Errorf("classifier build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := g.client.Do(req)
	if err != nil {
		return models.Prediction{}, err
	}
	defer resp.Body.Close()
	return decodePrediction(resp)
}

func (g *HTTPGateway) Degraded() bool { return false }

func decodePrediction(resp *http.Response) (models.Prediction, error) {
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return models.Prediction{}, ErrInvalidInput
	}
	if resp.StatusCode != http.StatusOK {
		return models.Prediction{}, fmt.Errorf("classifier unavailable: %s", resp.Status)
	}
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Prediction{}, fmt.Errorf("classifier decode response: %w", err)
	}
	pred := models.Prediction{
		IsAccident:     out.IsAccident,
		Confidence:     clampConfidence(out.Confidence),
		AccidentProb:   out.AccidentProb,
		NoAccidentProb: out.NoAccidentProb,
	}
	// Re-derive from confidence when the model sent no probabilities or an
	// inconsistent pair; the two must sum to 1.
	sum := pred.AccidentProb + pred.NoAccidentProb
	if (pred.AccidentProb == 0 && pred.NoAccidentProb == 0) || math.Abs(sum-1) > probSumEpsilon {
		if pred.IsAccident {
			pred.AccidentProb = pred.Confidence
		} else {
			pred.AccidentProb = 1 - pred.Confidence
		}
		pred.NoAccidentProb = 1 - pred.AccidentProb
	}
	return pred, nil
}
