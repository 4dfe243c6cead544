// Package jobs implements the job data model and state machine from
// spec.md §3/§4.6: a tagged variant over job kinds, each following an
// identical status skeleton, plus the retry-policy bookkeeping carried on
// every job record.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the three logical work items Bankai proves and
// settles. It intentionally is not an interface with per-kind methods
// (spec.md §9(ii) warns against inheritance-shaped polymorphism): callers
// switch on Kind, as the executor does in each step.
type Kind int

const (
	KindUnknown Kind = iota
	EpochUpdate
	EpochBatchUpdate
	SyncCommitteeUpdate
)

func (k Kind) String() string {
	switch k {
	case EpochUpdate:
		return "EpochUpdate"
	case EpochBatchUpdate:
		return "EpochBatchUpdate"
	case SyncCommitteeUpdate:
		return "SyncCommitteeUpdate"
	default:
		return "Unknown"
	}
}

// Status is a job's position in the canonical state-machine sequence
// spec.md §4.6 defines.
type Status int

const (
	StatusUnknown Status = iota
	Created
	Fetched
	TraceGenerated
	TraceSubmitted
	ProofGenerated
	WrapperSubmitted
	ProofWrapped
	OffchainReady
	OnchainSubmitted
	Confirmed
	Done
	Error
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Fetched:
		return "Fetched"
	case TraceGenerated:
		return "TraceGenerated"
	case TraceSubmitted:
		return "TraceSubmitted"
	case ProofGenerated:
		return "ProofGenerated"
	case WrapperSubmitted:
		return "WrapperSubmitted"
	case ProofWrapped:
		return "ProofWrapped"
	case OffchainReady:
		return "OffchainReady"
	case OnchainSubmitted:
		return "OnchainSubmitted"
	case Confirmed:
		return "Confirmed"
	case Done:
		return "Done"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether a job in this status is frozen (invariant iv).
func (s Status) IsTerminal() bool {
	return s == Done || s == Error
}

// BatchRange is the optional (begin_epoch, end_epoch) pair carried by
// EpochBatchUpdate jobs.
type BatchRange struct {
	BeginEpoch uint64
	EndEpoch   uint64
	Valid      bool
}

// Job is the central entity of spec.md §3.
type Job struct {
	JobID  string
	Kind   Kind
	Status Status
	Slot   uint64

	BatchRange BatchRange

	GenerateQueryID string // empty until assigned
	WrapperQueryID  string // empty until assigned
	TxHash          string // empty until a settlement tx is submitted

	FailedAtStep    string
	RetriesCount    int
	LastFailureTime time.Time
	HasFailure      bool // true iff RetriesCount > 0 (invariant iii)

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob constructs a Created job for the given kind/slot. batchRange is
// ignored for non-batch kinds.
func NewJob(kind Kind, slot uint64, batchRange BatchRange, now time.Time) Job {
	j := Job{
		JobID:     uuid.NewString(),
		Kind:      kind,
		Status:    Created,
		Slot:      slot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if kind == EpochBatchUpdate {
		j.BatchRange = batchRange
	}
	return j
}

// ValidateFieldInvariants checks invariant (ii): a job in status S must
// carry every field §4.6 requires for that status. It does not reject a
// field that is set earlier than its status requires.
func (j Job) ValidateFieldInvariants() error {
	// Error is reachable from any status, so a job that failed early
	// legitimately has none of these fields set; only Done (which must
	// have passed through the whole sequence) and the non-terminal
	// in-progress statuses are checked.
	atOrBeyond := func(s Status) bool {
		if j.Status == Error {
			return false
		}
		return statusRank(j.Status) >= statusRank(s)
	}

	if atOrBeyond(TraceSubmitted) && j.GenerateQueryID == "" {
		return errInvariant("generate_query_id must be set at or beyond TraceSubmitted")
	}
	if atOrBeyond(WrapperSubmitted) && j.WrapperQueryID == "" {
		return errInvariant("wrapper_query_id must be set at or beyond WrapperSubmitted")
	}
	if atOrBeyond(OnchainSubmitted) && j.TxHash == "" {
		return errInvariant("tx_hash must be set at or beyond OnchainSubmitted")
	}
	if j.Kind == EpochBatchUpdate && !j.BatchRange.Valid {
		return errInvariant("batch_range must be set for EpochBatchUpdate jobs")
	}
	if j.HasFailure != (j.RetriesCount > 0) {
		return errInvariant("last_failure_time must be set iff retries_count > 0")
	}
	return nil
}

// statusRank gives every status a total order matching the canonical
// sequence, with Done ranked past everything that precedes it so
// ValidateFieldInvariants can reason about "at or beyond X" for a finished
// job. Error ranks -1: it can be reached from any step, so it is never
// treated as at or beyond any status.
func statusRank(s Status) int {
	switch s {
	case Created:
		return 0
	case Fetched:
		return 1
	case TraceGenerated:
		return 2
	case TraceSubmitted:
		return 3
	case ProofGenerated:
		return 4
	case WrapperSubmitted:
		return 5
	case ProofWrapped:
		return 6
	case OffchainReady:
		return 7
	case OnchainSubmitted:
		return 8
	case Confirmed:
		return 9
	case Done:
		return 10
	case Error:
		return -1 // Error can be reached from any status; never "beyond" anything
	default:
		return -1
	}
}

type invariantError string

func (e invariantError) Error() string { return "job invariant violated: " + string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
