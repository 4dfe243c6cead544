package jobs

import "fmt"

// edges is the allowed-transition DAG from spec.md §4.6: the canonical
// forward sequence, plus (handled separately in CanTransition) any status
// to Error on a permanent failure.
var edges = map[Status]Status{
	Created:          Fetched,
	Fetched:          TraceGenerated,
	TraceGenerated:   TraceSubmitted,
	TraceSubmitted:   ProofGenerated,
	ProofGenerated:   WrapperSubmitted,
	WrapperSubmitted: ProofWrapped,
	ProofWrapped:     OffchainReady,
	OffchainReady:    OnchainSubmitted,
	OnchainSubmitted: Confirmed,
	Confirmed:        Done,
}

// NextStatus returns the single forward edge out of s, or false if s is
// terminal or unrecognized.
func NextStatus(s Status) (Status, bool) {
	next, ok := edges[s]
	return next, ok
}

// CanTransition reports whether from -> to is a legal edge: either the
// canonical forward edge, or any non-terminal status moving to Error.
func CanTransition(from, to Status) bool {
	if to == Error {
		return !from.IsTerminal()
	}
	next, ok := edges[from]
	return ok && next == to
}

// Transition validates and applies from -> to, returning the updated
// job. Callers are expected to persist the result in the same transaction
// that performed the side-effecting step (spec.md §4.7(c)).
func (j Job) Transition(to Status) (Job, error) {
	if !CanTransition(j.Status, to) {
		return j, fmt.Errorf("illegal transition for job %s: %s -> %s", j.JobID, j.Status, to)
	}
	j.Status = to
	return j, nil
}

// RequiresWrapperQueryIDAbsent implements edge policy (iii): between
// ProofGenerated and WrapperSubmitted, wrapper_query_id must still be
// null. A non-empty value at this point signals a double-submit bug
// (Permanent::Internal).
func (j Job) RequiresWrapperQueryIDAbsent() error {
	if j.WrapperQueryID != "" {
		return errInvariant("wrapper_query_id already set before WrapperSubmitted: double-submit")
	}
	return nil
}
