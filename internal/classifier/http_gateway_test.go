package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var jpegSample = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("sampledata")...)

func newGateway(t *testing.T, baseURL string, retries int) *HTTPGateway {
	t.Helper()
	gw, err := NewHTTPGateway(HTTPGatewayConfig{
		BaseURL: baseURL,
		Timeout: time.Second,
		Retries: retries,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestHTTPGatewayClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_accident":              true,
			"confidence":               0.87,
			"accident_probability":     0.87,
			"non_accident_probability": 0.13,
		})
	}))
	defer srv.Close()

	pred, err := newGateway(t, srv.URL, 0).Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !pred.IsAccident || pred.Confidence != 0.87 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestHTTPGatewayClampsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_accident": true,
			"confidence":  0.31,
		})
	}))
	defer srv.Close()

	pred, err := newGateway(t, srv.URL, 0).Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if pred.Confidence != 0.60 {
		t.Fatalf("confidence = %v, want clamped to 0.60", pred.Confidence)
	}
	if pred.AccidentProb != 0.60 || pred.NoAccidentProb != 0.40 {
		t.Fatalf("probabilities not derived from confidence: %+v", pred)
	}
}

func TestHTTPGatewayReadsSlowBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_accident":              true,
			"confidence":               0.87,
			"accident_probability":     0.87,
			"non_accident_probability": 0.13,
		})
	}))
	defer srv.Close()

	pred, err := newGateway(t, srv.URL, 0).Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify with streamed body: %v", err)
	}
	if !pred.IsAccident || pred.Confidence != 0.87 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestHTTPGatewayRederivesInconsistentProbabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_accident":              true,
			"confidence":               0.80,
			"accident_probability":     0.7,
			"non_accident_probability": 0.7,
		})
	}))
	defer srv.Close()

	pred, err := newGateway(t, srv.URL, 0).Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if sum := pred.AccidentProb + pred.NoAccidentProb; sum < 0.99 || sum > 1.01 {
		t.Fatalf("probabilities not normalized, sum = %v (%+v)", sum, pred)
	}
	if pred.AccidentProb != 0.80 {
		t.Fatalf("accident prob = %v, want re-derived from confidence", pred.AccidentProb)
	}
}

func TestHTTPGatewayRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"is_accident": false, "confidence": 0.92,
		})
	}))
	defer srv.Close()

	pred, err := newGateway(t, srv.URL, 2).Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if pred.IsAccident {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestHTTPGatewayInvalidInputNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL, 3).Classify(context.Background(), jpegSample)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClassifyRejectsUnknownBytes(t *testing.T) {
	gw := NewStaticGateway()
	if _, err := gw.Classify(context.Background(), []byte("plain text, not media")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := gw.Classify(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for empty input", err)
	}
}

func TestClassifyAcceptsQuickTime(t *testing.T) {
	// minimal ftyp box with the qt brand, as at the head of every .mov file
	mov := []byte{0x00, 0x00, 0x00, 0x14, 'f', 't', 'y', 'p', 'q', 't', ' ', ' ', 0x00, 0x00, 0x02, 0x00, 'q', 't', ' ', ' '}
	gw := NewStaticGateway()
	if _, err := gw.Classify(context.Background(), mov); err != nil {
		t.Fatalf("quicktime upload rejected: %v", err)
	}
}

func TestStaticGatewayDegradedDefault(t *testing.T) {
	gw := NewStaticGateway()
	if !gw.Degraded() {
		t.Fatalf("static gateway must report degraded")
	}
	pred, err := gw.Classify(context.Background(), jpegSample)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !pred.IsAccident || pred.Confidence != 0.5 || pred.AccidentProb != 0.5 || pred.NoAccidentProb != 0.5 {
		t.Fatalf("unexpected degraded default %+v", pred)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newGateway(t, srv.URL, 0).Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	srv.Close()
	if err := newGateway(t, srv.URL, 0).Probe(context.Background()); err == nil {
		t.Fatalf("probe against closed server should fail")
	}
}
