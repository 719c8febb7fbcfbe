package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker()
	if tr.State() != StateUnset || !tr.IsHealthy() {
		t.Fatalf("Expected a new tracker to be unset and healthy, got %s", tr.State())
	}

	tr.Set(false)
	if tr.IsHealthy() || !errors.Is(tr.Check(), ErrUnhealthy) {
		t.Errorf("Expected unhealthy after a failed operation")
	}

	tr.Set(true)
	if !tr.IsHealthy() || tr.Check() != nil || tr.State() != StateHealthy {
		t.Errorf("Expected healthy after a successful operation, got %s", tr.State())
	}

	tr.MarkUnhealthy()
	if tr.State() != StateUnhealthy {
		t.Errorf("Expected unhealthy, got %s", tr.State())
	}
}

func TestTrackerConcurrentWriters(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			tr.Set(ok)
			_ = tr.IsHealthy()
		}(i%2 == 0)
	}
	wg.Wait()
	if s := tr.State(); s != StateHealthy && s != StateUnhealthy {
		t.Errorf("Expected a set state after concurrent writes, got %s", s)
	}
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name  string
		set   func(*Tracker)
		code  int
		state string
	}{
		{"unset", func(*Tracker) {}, http.StatusOK, "unset"},
		{"healthy", (*Tracker).MarkHealthy, http.StatusOK, "healthy"},
		{"unhealthy", (*Tracker).MarkUnhealthy, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tt.set(tr)

			rec := httptest.NewRecorder()
			Handler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, rec.Code)
			}
			var status Status
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("Invalid body: %v", err)
			}
			if status.State != tt.state {
				t.Errorf("Expected state %s, got %s", tt.state, status.State)
			}
		})
	}
}
