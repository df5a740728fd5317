package turn

// State is a step of the per-turn state machine:
//
//	Idle -> Classifying -> (Direct | Searching) -> Composing -> Generating -> Done
//
// with Failed reachable from Searching and Generating. Every turn ends
// back in Idle.
type State int32

const (
	StateIdle State = iota
	StateClassifying
	StateDirect
	StateSearching
	StateComposing
	StateGenerating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateDirect:
		return "direct"
	case StateSearching:
		return "searching"
	case StateComposing:
		return "composing"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
