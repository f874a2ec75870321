package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// serve runs a GET /health request through h and decodes the JSON body.
func serve(t *testing.T, h *Handler) (int, response) {
	t.Helper()
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealth_AllCheckersPass(t *testing.T) {
	h := New("pythia", "2.1.0",
		NamedCheck("store", func(_ context.Context) error { return nil }),
	)

	code, body := serve(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want %q", body.Status, "healthy")
	}
	if body.Service != "pythia" {
		t.Errorf("service = %q, want %q", body.Service, "pythia")
	}
	if body.Version != "2.1.0" {
		t.Errorf("version = %q, want %q", body.Version, "2.1.0")
	}
	if body.Message != "Service operational" {
		t.Errorf("message = %q, want %q", body.Message, "Service operational")
	}
}

func TestHealth_ContentType(t *testing.T) {
	h := New("pythia", "2.1.0")
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestHealth_RequiredCheckerFails(t *testing.T) {
	h := New("pythia", "2.1.0",
		NamedCheck("store", func(_ context.Context) error {
			return errors.New("connection refused")
		}),
	)

	code, body := serve(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "unhealthy" {
		t.Errorf("status = %q, want %q", body.Status, "unhealthy")
	}
	want := "Service unhealthy: store: connection refused"
	if body.Message != want {
		t.Errorf("message = %q, want %q", body.Message, want)
	}
}

func TestHealth_OptionalCheckerNeverFailsReadiness(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{"available", nil, "Service operational, currentinfo: ok"},
		{"unavailable", errors.New("api key missing"), "Service operational, currentinfo: unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New("pythia", "2.1.0",
				NamedCheck("store", func(_ context.Context) error { return nil }),
			)
			h.AddOptional(NamedCheck("currentinfo", func(_ context.Context) error {
				return tc.err
			}))

			code, body := serve(t, h)
			if code != http.StatusOK {
				t.Errorf("status = %d, want %d", code, http.StatusOK)
			}
			if body.Status != "healthy" {
				t.Errorf("status = %q, want %q", body.Status, "healthy")
			}
			if body.Message != tc.wantMessage {
				t.Errorf("message = %q, want %q", body.Message, tc.wantMessage)
			}
		})
	}
}

func TestHealth_SummaryProducesBaseMessage(t *testing.T) {
	h := New("pythia", "2.1.0",
		NamedCheck("store", func(_ context.Context) error { return nil }),
	)
	h.SetSummary(func(_ context.Context) string {
		return "Service operational with 1523 documents, cache: enabled"
	})
	h.AddOptional(NamedCheck("currentinfo", func(_ context.Context) error { return nil }))

	_, body := serve(t, h)
	want := "Service operational with 1523 documents, cache: enabled, currentinfo: ok"
	if body.Message != want {
		t.Errorf("message = %q, want %q", body.Message, want)
	}
}

func TestHealth_NoCheckers(t *testing.T) {
	h := New("pythia", "2.1.0")

	code, body := serve(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want %q", body.Status, "healthy")
	}
}

func TestHealth_Register(t *testing.T) {
	h := New("pythia", "2.1.0",
		NamedCheck("store", func(_ context.Context) error { return nil }),
	)

	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealth_RespectsContextCancellation(t *testing.T) {
	h := New("pythia", "2.1.0",
		NamedCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
