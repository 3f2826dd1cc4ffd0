// Package health tracks the health of the storage sources grids are read
// from. Components move from healthy to degraded to unavailable as
// consecutive failures accumulate and recover after consecutive successes.
package health

import (
	stderr "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/volgrid/volgrid/pkg/errors"
)

// HealthState represents the health of a component.
type HealthState int

const (
	// StateHealthy indicates reads succeed.
	StateHealthy HealthState = iota

	// StateDegraded indicates recent reads failed but the source is still used.
	StateDegraded

	// StateUnavailable indicates the source fails persistently.
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *HealthState) UnmarshalText(text []byte) error {
	for _, state := range []HealthState{StateHealthy, StateDegraded, StateUnavailable} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown health state %q", text)
}

// ComponentHealth is a snapshot of one component.
type ComponentHealth struct {
	Name                 string      `json:"name" yaml:"name"`
	State                HealthState `json:"state" yaml:"state"`
	LastStateChange      time.Time   `json:"last_state_change" yaml:"last_state_change"`
	LastCheck            time.Time   `json:"last_check" yaml:"last_check"`
	ConsecutiveErrors    int         `json:"consecutive_errors" yaml:"consecutive_errors"`
	ConsecutiveSuccesses int         `json:"consecutive_successes" yaml:"consecutive_successes"`
	TotalErrors          int64       `json:"total_errors" yaml:"total_errors"`
	LastErrorMessage     string      `json:"last_error_message,omitempty" yaml:"last_error_message,omitempty"`
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before a component
	// is degraded.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a
	// component is unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// RecoveryThreshold is the number of consecutive successes that return
	// a component to healthy.
	RecoveryThreshold int `yaml:"recovery_threshold" json:"recovery_threshold"`
}

// StateChangeCallback is called when a component's health state changes.
// Callbacks run synchronously after the tracker lock is released.
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    2,
	}
}

// Tracker tracks the health of multiple components.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = max(def.UnavailableThreshold, config.ErrorThreshold)
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = def.RecoveryThreshold
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		now:        time.Now,
	}
}

// RegisterComponent registers a component. Registering twice is a no-op.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.componentLocked(name)
}

func (t *Tracker) componentLocked(name string) *ComponentHealth {
	h, ok := t.components[name]
	if !ok {
		now := t.now()
		h = &ComponentHealth{Name: name, State: StateHealthy, LastStateChange: now, LastCheck: now}
		t.components[name] = h
	}
	return h
}

// Observe records the outcome of one read against component. Errors that
// describe the request rather than the source (a missing or corrupt file,
// a wrong grid type) are ignored. A nil tracker ignores everything.
func (t *Tracker) Observe(component string, err error) {
	if t == nil {
		return
	}
	switch {
	case err == nil:
		t.RecordSuccess(component)
	case AffectsHealth(err):
		t.RecordError(component, err)
	}
}

// RecordSuccess records a successful operation for a component.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	h := t.componentLocked(component)
	old := h.State
	h.LastCheck = t.now()
	h.ConsecutiveErrors = 0
	h.ConsecutiveSuccesses++
	if h.State != StateHealthy && h.ConsecutiveSuccesses >= t.config.RecoveryThreshold {
		t.transitionLocked(h, StateHealthy)
		h.LastErrorMessage = ""
	}
	callbacks := t.changedLocked(old, h.State)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(component, old, StateHealthy, nil)
	}
}

// RecordError records a failed operation for a component.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	h := t.componentLocked(component)
	old := h.State
	h.LastCheck = t.now()
	h.ConsecutiveSuccesses = 0
	h.ConsecutiveErrors++
	h.TotalErrors++
	if err != nil {
		h.LastErrorMessage = err.Error()
	}

	next := h.State
	switch {
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		next = StateUnavailable
	case h.ConsecutiveErrors >= t.config.ErrorThreshold && h.State == StateHealthy:
		next = StateDegraded
	}
	if next != old {
		t.transitionLocked(h, next)
	}
	callbacks := t.changedLocked(old, next)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(component, old, next, err)
	}
}

// GetState returns the state of a component. Unknown components are
// reported healthy: nothing has failed there yet.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.components[component]; ok {
		return h.State
	}
	return StateHealthy
}

// GetComponentHealth returns a snapshot of one component.
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.components[component]
	if !ok {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *h, nil
}

// Components returns snapshots of every component, sorted by name.
func (t *Tracker) Components() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ComponentHealth, 0, len(t.components))
	for _, h := range t.components {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetOverallHealth returns the worst state of any component.
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	overall := StateHealthy
	for _, h := range t.components {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// IsHealthy returns true if the component is in a healthy state
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// OnStateChange registers a callback for every state change.
func (t *Tracker) OnStateChange(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

func (t *Tracker) transitionLocked(h *ComponentHealth, state HealthState) {
	h.State = state
	h.LastStateChange = t.now()
}

func (t *Tracker) changedLocked(old, next HealthState) []StateChangeCallback {
	if old == next || len(t.callbacks) == 0 {
		return nil
	}
	return append([]StateChangeCallback(nil), t.callbacks...)
}

// AffectsHealth reports whether err says something about the source it
// came from. File and grid errors and missing objects concern a single
// request.
func AffectsHealth(err error) bool {
	if err == nil {
		return false
	}
	var gridErr *errors.GridError
	if stderr.As(err, &gridErr) {
		if gridErr.Code == errors.ErrCodeObjectNotFound {
			return false
		}
		switch gridErr.Category {
		case errors.CategoryFile, errors.CategoryGrid:
			return false
		}
	}
	return true
}
