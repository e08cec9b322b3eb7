package task

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a state change skips the machine's edges.
var ErrInvalidTransition = errors.New("invalid state transition")

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// State is the processing state seen by the UI. Fraction is meaningful only
// while processing; Message and ExitCode only in the error phase.
type State struct {
	Phase    Phase   `json:"phase"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
	ExitCode int     `json:"exitCode,omitempty"`
}

func (s State) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseError
}

// Snapshot is one published state value.
type Snapshot struct {
	Seq         int64     `json:"seq"`
	JobID       string    `json:"jobId,omitempty"`
	State       State     `json:"state"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StateHolder owns the processing state and delivers every change, in
// order, to its subscribers. Subscribers that fall behind only keep the
// most recent snapshot.
type StateHolder struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// NewStateHolder creates a holder in the idle state.
func NewStateHolder() *StateHolder {
	return &StateHolder{
		current: Snapshot{
			State:     State{Phase: PhaseIdle},
			UpdatedAt: time.Now().UTC(),
		},
		subs: make(map[int]chan Snapshot),
	}
}

// Current returns the latest snapshot.
func (h *StateHolder) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe returns a channel receiving every subsequent snapshot, primed
// with the current one, and a func that ends the subscription.
func (h *StateHolder) Subscribe() (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Snapshot, 16)
	ch <- h.current
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Begin enters processing(0) for a new job. Allowed from any state except
// processing.
func (h *StateHolder) Begin(jobID, description string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current.State.Phase == PhaseProcessing {
		return ErrJobAlreadyRunning
	}
	h.publish(jobID, State{Phase: PhaseProcessing}, description)
	return nil
}

// Progress records a new fraction for the running job. The value is clamped
// to [0,1]; smaller values than the previous one are accepted.
func (h *StateHolder) Progress(fraction float64, description string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireProcessing(PhaseProcessing); err != nil {
		return err
	}
	h.publish(h.current.JobID, State{Phase: PhaseProcessing, Fraction: clampFraction(fraction)}, description)
	return nil
}

// Describe updates the description without changing the state.
func (h *StateHolder) Describe(description string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireProcessing(PhaseProcessing); err != nil {
		return err
	}
	h.publish(h.current.JobID, h.current.State, description)
	return nil
}

// Complete moves the running job to completed.
func (h *StateHolder) Complete(description string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireProcessing(PhaseCompleted); err != nil {
		return err
	}
	h.publish(h.current.JobID, State{Phase: PhaseCompleted, Fraction: 1}, description)
	return nil
}

// Fail moves the running job to error(message).
func (h *StateHolder) Fail(message string, exitCode int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireProcessing(PhaseError); err != nil {
		return err
	}
	h.publish(h.current.JobID, State{
		Phase:    PhaseError,
		Fraction: h.current.State.Fraction,
		Message:  message,
		ExitCode: exitCode,
	}, message)
	return nil
}

func (h *StateHolder) requireProcessing(to Phase) error {
	if h.current.State.Phase != PhaseProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.current.State.Phase, to)
	}
	return nil
}

// publish must be called with h.mu held.
func (h *StateHolder) publish(jobID string, s State, description string) {
	h.current = Snapshot{
		Seq:         h.current.Seq + 1,
		JobID:       jobID,
		State:       s,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	}
	for _, ch := range h.subs {
		select {
		case ch <- h.current:
		default:
			// Drop the oldest queued snapshot to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- h.current:
			default:
			}
		}
	}
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
