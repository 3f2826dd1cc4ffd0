package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/volgrid/volgrid/pkg/errors"
)

func newTestTracker(config TrackerConfig) (*Tracker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewTracker(config)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("s3")
	tracker.RegisterComponent("s3")

	if state := tracker.GetState("s3"); state != StateHealthy {
		t.Errorf("Expected initial state healthy, got %s", state)
	}
	if n := len(tracker.Components()); n != 1 {
		t.Errorf("Expected 1 component, got %d", n)
	}
}

func TestNewTracker_FixesThresholds(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 20})
	if tracker.config.UnavailableThreshold != 20 {
		t.Errorf("Expected unavailable threshold raised to 20, got %d", tracker.config.UnavailableThreshold)
	}
	if tracker.config.RecoveryThreshold != DefaultConfig().RecoveryThreshold {
		t.Errorf("Expected default recovery threshold, got %d", tracker.config.RecoveryThreshold)
	}
}

func TestTracker_Degradation(t *testing.T) {
	tracker, _ := newTestTracker(TrackerConfig{ErrorThreshold: 3, UnavailableThreshold: 5, RecoveryThreshold: 2})

	for i := 0; i < 2; i++ {
		tracker.RecordError("s3", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("s3"); state != StateHealthy {
		t.Errorf("Expected healthy below threshold, got %s", state)
	}

	tracker.RecordError("s3", fmt.Errorf("error 3"))
	if state := tracker.GetState("s3"); state != StateDegraded {
		t.Errorf("Expected degraded at threshold, got %s", state)
	}

	tracker.RecordError("s3", fmt.Errorf("error 4"))
	tracker.RecordError("s3", fmt.Errorf("error 5"))
	if state := tracker.GetState("s3"); state != StateUnavailable {
		t.Errorf("Expected unavailable, got %s", state)
	}

	h, err := tracker.GetComponentHealth("s3")
	if err != nil {
		t.Fatalf("GetComponentHealth: %v", err)
	}
	if h.TotalErrors != 5 || h.LastErrorMessage != "error 5" {
		t.Errorf("Unexpected snapshot %+v", h)
	}
}

func TestTracker_Recovery(t *testing.T) {
	tracker, now := newTestTracker(TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 10, RecoveryThreshold: 2})

	tracker.RecordError("local", fmt.Errorf("disk gone"))
	degradedAt, _ := tracker.GetComponentHealth("local")

	*now = now.Add(time.Minute)
	tracker.RecordSuccess("local")
	if state := tracker.GetState("local"); state != StateDegraded {
		t.Errorf("Expected still degraded after one success, got %s", state)
	}
	tracker.RecordSuccess("local")
	if state := tracker.GetState("local"); state != StateHealthy {
		t.Errorf("Expected healthy after recovery, got %s", state)
	}

	h, _ := tracker.GetComponentHealth("local")
	if h.LastErrorMessage != "" {
		t.Errorf("Expected error cleared on recovery, got %q", h.LastErrorMessage)
	}
	if !h.LastStateChange.After(degradedAt.LastStateChange) {
		t.Errorf("Expected state change time to advance")
	}
}

func TestTracker_ErrorInterruptsRecovery(t *testing.T) {
	tracker, _ := newTestTracker(TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 10, RecoveryThreshold: 2})

	tracker.RecordError("s3", fmt.Errorf("a"))
	tracker.RecordSuccess("s3")
	tracker.RecordError("s3", fmt.Errorf("b"))
	tracker.RecordSuccess("s3")
	if state := tracker.GetState("s3"); state != StateDegraded {
		t.Errorf("Expected degraded, got %s", state)
	}
}

func TestTracker_Observe(t *testing.T) {
	tracker, _ := newTestTracker(TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 10, RecoveryThreshold: 1})

	tracker.Observe("local", errors.NewError(errors.ErrCodeFileNotFound, "no such file"))
	tracker.Observe("local", errors.NewError(errors.ErrCodeContainerCorrupt, "bad magic"))
	tracker.Observe("s3", errors.NewError(errors.ErrCodeObjectNotFound, "no such key"))
	if state := tracker.GetOverallHealth(); state != StateHealthy {
		t.Errorf("Expected request errors ignored, got %s", state)
	}

	tracker.Observe("s3", errors.NewError(errors.ErrCodeConnectionFailed, "refused"))
	if state := tracker.GetState("s3"); state != StateDegraded {
		t.Errorf("Expected degraded on connection failure, got %s", state)
	}
	tracker.Observe("s3", nil)
	if state := tracker.GetState("s3"); state != StateHealthy {
		t.Errorf("Expected recovery on success, got %s", state)
	}

	var nilTracker *Tracker
	nilTracker.Observe("s3", fmt.Errorf("ignored"))
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker, _ := newTestTracker(TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2, RecoveryThreshold: 1})
	if state := tracker.GetOverallHealth(); state != StateHealthy {
		t.Errorf("Expected healthy with no components, got %s", state)
	}

	tracker.RegisterComponent("local")
	tracker.RecordError("s3", fmt.Errorf("x"))
	tracker.RecordError("s3", fmt.Errorf("y"))
	if state := tracker.GetOverallHealth(); state != StateUnavailable {
		t.Errorf("Expected worst state unavailable, got %s", state)
	}
	if !tracker.IsHealthy("local") {
		t.Errorf("Expected local healthy")
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	tracker, _ := newTestTracker(TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 10, RecoveryThreshold: 1})

	var mu sync.Mutex
	var changes []string
	tracker.OnStateChange(func(component string, oldState, newState HealthState, err error) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, fmt.Sprintf("%s:%s->%s", component, oldState, newState))
	})

	tracker.RecordError("s3", fmt.Errorf("a"))
	tracker.RecordError("s3", fmt.Errorf("b"))
	tracker.RecordError("s3", fmt.Errorf("c"))
	tracker.RecordSuccess("s3")

	want := []string{"s3:healthy->degraded", "s3:degraded->healthy"}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("Expected changes %v, got %v", want, changes)
	}
}

func TestTracker_GetComponentHealth_NotRegistered(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if _, err := tracker.GetComponentHealth("nope"); err == nil {
		t.Error("Expected error for unregistered component")
	}
	if state := tracker.GetState("nope"); state != StateHealthy {
		t.Errorf("Expected unknown component healthy, got %s", state)
	}
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state HealthState
		want  string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateUnavailable, "unavailable"},
		{HealthState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
		text, _ := tt.state.MarshalText()
		if string(text) != tt.want {
			t.Errorf("MarshalText(%d) = %q, want %q", tt.state, text, tt.want)
		}
	}

	var s HealthState
	if err := s.UnmarshalText([]byte("degraded")); err != nil || s != StateDegraded {
		t.Errorf("UnmarshalText(degraded) = %s, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					tracker.RecordError("s3", fmt.Errorf("e"))
				} else {
					tracker.RecordSuccess("s3")
				}
				_ = tracker.Components()
			}
		}(i)
	}
	wg.Wait()

	h, err := tracker.GetComponentHealth("s3")
	if err != nil {
		t.Fatalf("GetComponentHealth: %v", err)
	}
	if h.TotalErrors != 400 {
		t.Errorf("Expected 400 errors, got %d", h.TotalErrors)
	}
}
