package turn

import (
	"errors"
	"time"
)

// ErrNoSpeech is returned for an empty or whitespace-only utterance.
// It is not a failure; the caller reports "no speech detected".
var ErrNoSpeech = errors.New("no speech detected")

// Kind tags a turn outcome.
type Kind int

const (
	// KindSuccess: an answer was generated.
	KindSuccess Kind = iota

	// KindSearchFailed: the search failed and the answer was generated
	// from the plain prompt instead. Text is usable. This is the
	// degraded-but-successful turn: Succeeded reports true, the same as
	// for KindSuccess.
	KindSearchFailed

	// KindGenerationFailed: no answer could be generated. Err says why.
	KindGenerationFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindSearchFailed:
		return "search_failed"
	case KindGenerationFailed:
		return "generation_failed"
	default:
		return "unknown"
	}
}

// Route names for logs and metrics.
const (
	RouteDirect = "direct"
	RouteSearch = "search"
)

// Outcome is the result of one turn.
type Outcome struct {
	TurnID string
	Kind   Kind

	// Text is the full answer. Empty for KindGenerationFailed.
	Text string

	// Err is the generation failure for KindGenerationFailed.
	Err error

	// SearchErr is the search failure that was degraded around, if any.
	SearchErr error

	// Route is RouteDirect or RouteSearch.
	Route string

	// Augmented reports whether the prompt carried search context.
	Augmented bool

	Duration time.Duration
}

// Succeeded reports whether Text should be handed to speech synthesis.
// Search failures do not count against a turn.
func (o Outcome) Succeeded() bool {
	return o.Kind != KindGenerationFailed
}
