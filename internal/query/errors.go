package query

import "errors"

// Sentinel errors for query pipeline failures. Stage errors that the
// pipeline recovers from (malformed intent, per-candidate judgment
// failure, graph store outage) never reach the caller; these cover the
// failures that prevent producing any answer at all.
var (
	// ErrIntentParse indicates the intent model's output could not be
	// parsed. Recovered internally with the default intent.
	ErrIntentParse = errors.New("intent response malformed")

	// ErrRetrieval indicates the vector store could not be searched.
	// Fatal for the query.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the final model call failed.
	// Fatal for the query; callers may present a retry affordance.
	ErrGeneration = errors.New("generation failed")
)
