package tts

// Phase represents the current phase of the narration pipeline.
type Phase int

const (
	// PhaseIdle indicates no content block is loaded.
	PhaseIdle Phase = iota
	// PhaseLoading indicates the block text is being rewritten into segments.
	PhaseLoading
	// PhaseSynthesizing indicates segments are pending and nothing is playing yet.
	PhaseSynthesizing
	// PhasePlaying indicates narration audio is actively playing.
	PhasePlaying
	// PhasePaused indicates playback is paused, by the user or while waiting
	// for the next segment.
	PhasePaused
	// PhaseError indicates the pipeline hit a block-level failure.
	PhaseError
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// StateMachine manages phase transitions for the narration pipeline.
type StateMachine struct {
	current     Phase
	transitions map[Phase][]Phase
	onEnter     map[Phase]func()
	onExit      map[Phase]func()
}

// NewStateMachine creates a new state machine with valid transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: PhaseIdle,
		transitions: map[Phase][]Phase{
			PhaseIdle:         {PhaseLoading},
			PhaseLoading:      {PhaseLoading, PhaseSynthesizing, PhaseError, PhaseIdle},
			PhaseSynthesizing: {PhasePlaying, PhasePaused, PhaseError, PhaseIdle, PhaseLoading},
			PhasePlaying:      {PhasePaused, PhaseSynthesizing, PhaseError, PhaseIdle, PhaseLoading},
			PhasePaused:       {PhasePlaying, PhaseSynthesizing, PhaseError, PhaseIdle, PhaseLoading},
			PhaseError:        {PhaseIdle, PhaseLoading, PhasePlaying, PhasePaused, PhaseSynthesizing},
		},
		onEnter: make(map[Phase]func()),
		onExit:  make(map[Phase]func()),
	}
}

// CanTransition reports whether moving to the given phase is allowed.
func (sm *StateMachine) CanTransition(to Phase) bool {
	if to == sm.current {
		return true
	}
	for _, p := range sm.transitions[sm.current] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition to the specified phase. Transitioning to
// the current phase is a no-op that succeeds without running callbacks.
func (sm *StateMachine) Transition(to Phase) bool {
	if to == sm.current {
		return true
	}
	if !sm.CanTransition(to) {
		return false
	}

	if exitFn, ok := sm.onExit[sm.current]; ok && exitFn != nil {
		exitFn()
	}

	sm.current = to

	if enterFn, ok := sm.onEnter[to]; ok && enterFn != nil {
		enterFn()
	}

	return true
}

// Current returns the current phase.
func (sm *StateMachine) Current() Phase {
	return sm.current
}

// OnEnter registers a callback for entering a phase.
func (sm *StateMachine) OnEnter(phase Phase, fn func()) {
	sm.onEnter[phase] = fn
}

// OnExit registers a callback for exiting a phase.
func (sm *StateMachine) OnExit(phase Phase, fn func()) {
	sm.onExit[phase] = fn
}
