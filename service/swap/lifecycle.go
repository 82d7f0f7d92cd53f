package swap

// Stage is the position of a swap in its submission lifecycle:
//
//	idle -> simulating? -> submitted -> confirming -> confirmed | failed
//
// A new submission restarts the cycle at submitted.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageSimulating Stage = "simulating"
	StageSubmitting Stage = "submitting"
	StageSubmitted  Stage = "submitted"
	StageConfirming Stage = "confirming"
	StageConfirmed  Stage = "confirmed"
	StageFailed     Stage = "failed"
)

// Lifecycle is the state machine behind the single-fire success callback.
// It is keyed by submission handle: the fired flag belongs to the last
// handle seen and is cleared whenever a different handle appears.
//
// Lifecycle is not safe for concurrent use; Swap serializes access.
type Lifecycle struct {
	stage   Stage
	current string // handle the confirmation watch is bound to
	last    string // last handle ever seen
	fired   bool
}

// NewLifecycle returns a lifecycle in the idle stage.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{stage: StageIdle}
}

// Stage returns the current stage.
func (l *Lifecycle) Stage() Stage {
	return l.stage
}

// Handle returns the handle the confirmation watch is currently bound to.
func (l *Lifecycle) Handle() string {
	return l.current
}

// Fired reports whether the callback already ran for the last handle.
func (l *Lifecycle) Fired() bool {
	return l.fired
}

// Simulating records that a simulation was issued. It only moves the
// stage before the first submission.
func (l *Lifecycle) Simulating() {
	if l.stage == StageIdle {
		l.stage = StageSimulating
	}
}

// SimulationSettled returns from simulating to idle.
func (l *Lifecycle) SimulationSettled() {
	if l.stage == StageSimulating {
		l.stage = StageIdle
	}
}

// SubmissionStarted unbinds the confirmation watch. Results that arrive
// for the previous handle from here on are stale.
func (l *Lifecycle) SubmissionStarted() {
	l.current = ""
	l.stage = StageSubmitting
}

// SubmissionFailed records that the submission was rejected.
func (l *Lifecycle) SubmissionFailed() {
	l.current = ""
	l.stage = StageFailed
}

// Submitted binds the lifecycle to handle. It returns true when handle
// differs from the last handle seen, in which case the fired flag is
// cleared for the new cycle.
func (l *Lifecycle) Submitted(handle string) bool {
	if handle == "" {
		return false
	}
	l.current = handle
	l.stage = StageSubmitted
	if handle == l.last {
		return false
	}
	l.last = handle
	l.fired = false
	return true
}

// Confirming records that the watch for handle started.
func (l *Lifecycle) Confirming(handle string) bool {
	if !l.isCurrent(handle) {
		return false
	}
	l.stage = StageConfirming
	return true
}

// Confirmed records a successful confirmation for handle. It returns false
// and leaves the state untouched when handle is stale.
func (l *Lifecycle) Confirmed(handle string) bool {
	if !l.isCurrent(handle) {
		return false
	}
	l.stage = StageConfirmed
	return true
}

// Failed records a failed confirmation for handle. Stale handles are ignored.
func (l *Lifecycle) Failed(handle string) bool {
	if !l.isCurrent(handle) {
		return false
	}
	l.stage = StageFailed
	return true
}

// TakeFire reports whether the success callback must run now and, if so,
// sets the fired flag. It is safe to call on every re-evaluation.
func (l *Lifecycle) TakeFire(hasCallback bool) bool {
	if !hasCallback || l.fired {
		return false
	}
	if l.stage != StageConfirmed || l.current == "" || l.current != l.last {
		return false
	}
	l.fired = true
	return true
}

func (l *Lifecycle) isCurrent(handle string) bool {
	return handle != "" && handle == l.current
}
