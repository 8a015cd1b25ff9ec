package locator

import "errors"

// Failure taxonomy for a location attempt. Everything except
// ErrConfiguration, ErrUserTerminated and ErrUserInterrupted is
// retryable within the deadline.
var (
	// ErrNoCandidatesInStore means the similarity store returned nothing
	// for the element description.
	ErrNoCandidatesInStore = errors.New("no candidates in store")

	// ErrCandidatesBelowFloor means candidates exist but none reached
	// the confidence floors.
	ErrCandidatesBelowFloor = errors.New("candidates below confidence floor")

	// ErrNoVisualMatch means neither grounding votes nor algorithmic
	// matching produced a usable region on the current screen.
	ErrNoVisualMatch = errors.New("no visual match found")

	// ErrDisambiguationInconsistent means validation votes did not reach
	// a strict majority for any candidate.
	ErrDisambiguationInconsistent = errors.New("disambiguation votes inconsistent")

	// ErrUserTerminated means the operator chose to stop the run.
	ErrUserTerminated = errors.New("user terminated")

	// ErrUserInterrupted means the operator interrupted a confirmation.
	ErrUserInterrupted = errors.New("user interrupted")

	// ErrConfiguration marks a fatal setup problem, such as more
	// candidates than available labels. Never retried.
	ErrConfiguration = errors.New("configuration error")
)
