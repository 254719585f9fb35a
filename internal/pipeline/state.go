package pipeline

// State is where a single extraction run is. Failed can follow any non terminal state.
type State int

const (
	Queued State = iota
	ResolvingTranscript
	ExtractingCandidates
	VerifyingPlaces
	Persisting
	Completed
	Failed
)

var stateNames = [...]string{
	Queued:               "queued",
	ResolvingTranscript:  "resolving_transcript",
	ExtractingCandidates: "extracting_candidates",
	VerifyingPlaces:      "verifying_places",
	Persisting:           "persisting",
	Completed:            "completed",
	Failed:               "failed",
}

var statePercents = [...]int{
	Queued:               0,
	ResolvingTranscript:  20,
	ExtractingCandidates: 45,
	VerifyingPlaces:      70,
	Persisting:           90,
	Completed:            100,
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Percent is the coarse progress of the state, Failed keeps whatever was reached.
func (s State) Percent() int {
	if s < 0 || int(s) >= len(statePercents) {
		return 0
	}
	return statePercents[s]
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Event is emitted on every state transition of a run.
type Event struct {
	VideoID string
	State   State
	Percent int
	Err     error
}

type ProgressFunc func(Event)
