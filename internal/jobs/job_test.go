package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardSequence(t *testing.T) {
	sequence := []Status{
		Created, Fetched, TraceGenerated, TraceSubmitted, ProofGenerated,
		WrapperSubmitted, ProofWrapped, OffchainReady, OnchainSubmitted,
		Confirmed, Done,
	}
	for i := 0; i < len(sequence)-1; i++ {
		require.True(t, CanTransition(sequence[i], sequence[i+1]), "%s -> %s", sequence[i], sequence[i+1])
	}
}

func TestCanTransition_SkipsAreIllegal(t *testing.T) {
	require.False(t, CanTransition(Created, TraceGenerated))
	require.False(t, CanTransition(Fetched, ProofGenerated))
	require.False(t, CanTransition(Done, Confirmed))
}

func TestCanTransition_ErrorFromAnyNonTerminalStatus(t *testing.T) {
	for _, s := range []Status{Created, Fetched, TraceGenerated, TraceSubmitted, ProofGenerated, WrapperSubmitted, ProofWrapped, OffchainReady, OnchainSubmitted, Confirmed} {
		require.True(t, CanTransition(s, Error), "%s -> Error", s)
	}
	require.False(t, CanTransition(Done, Error), "terminal Done must not transition")
	require.False(t, CanTransition(Error, Error), "terminal Error must not transition")
}

func TestJob_Transition(t *testing.T) {
	j := NewJob(EpochUpdate, 9000, BatchRange{}, time.Now())
	require.Equal(t, Created, j.Status)

	j, err := j.Transition(Fetched)
	require.NoError(t, err)
	require.Equal(t, Fetched, j.Status)

	_, err = j.Transition(ProofGenerated)
	require.Error(t, err)
}

func TestValidateFieldInvariants(t *testing.T) {
	now := time.Now()

	j := NewJob(EpochUpdate, 9000, BatchRange{}, now)
	j.Status = TraceSubmitted
	require.Error(t, j.ValidateFieldInvariants(), "generate_query_id must be set")

	j.GenerateQueryID = "gen-1"
	require.NoError(t, j.ValidateFieldInvariants())

	j.Status = WrapperSubmitted
	require.Error(t, j.ValidateFieldInvariants(), "wrapper_query_id must be set")
	j.WrapperQueryID = "wrap-1"
	require.NoError(t, j.ValidateFieldInvariants())

	j.Status = OnchainSubmitted
	require.Error(t, j.ValidateFieldInvariants())
	j.TxHash = "0xabc"
	require.NoError(t, j.ValidateFieldInvariants())
}

func TestValidateFieldInvariants_ErrorStatusIsNeverBeyond(t *testing.T) {
	j := NewJob(EpochUpdate, 9001, BatchRange{}, time.Now())
	j.Status = Error
	j.FailedAtStep = "TraceSubmitted"
	require.NoError(t, j.ValidateFieldInvariants())
}

func TestValidateFieldInvariants_BatchRequiresRange(t *testing.T) {
	j := NewJob(EpochBatchUpdate, 1256, BatchRange{}, time.Now())
	require.Error(t, j.ValidateFieldInvariants())

	j.BatchRange = BatchRange{BeginEpoch: 1000, EndEpoch: 1007, Valid: true}
	require.NoError(t, j.ValidateFieldInvariants())
}

func TestValidateFieldInvariants_FailureBookkeeping(t *testing.T) {
	j := NewJob(EpochUpdate, 9000, BatchRange{}, time.Now())
	require.NoError(t, j.ValidateFieldInvariants())

	j.RetriesCount = 1
	require.Error(t, j.ValidateFieldInvariants(), "last_failure_time must accompany retries_count > 0")

	j.HasFailure = true
	j.LastFailureTime = time.Now()
	require.NoError(t, j.ValidateFieldInvariants())
}

func TestRetryPolicy_DelayFor(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 30*time.Second, p.DelayFor(1))
	require.Equal(t, 60*time.Second, p.DelayFor(2))
	require.Equal(t, 120*time.Second, p.DelayFor(3))
	require.Equal(t, 15*time.Minute, p.DelayFor(20), "must cap at 15m")
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	require.False(t, p.Exhausted(5))
	require.True(t, p.Exhausted(6))
	require.True(t, p.Exhausted(7))
}

func TestJobDeadlineExceeded(t *testing.T) {
	created := time.Now().Add(-25 * time.Hour)
	require.True(t, JobDeadlineExceeded(created, time.Now(), 24*time.Hour))
	require.False(t, JobDeadlineExceeded(time.Now(), time.Now(), 24*time.Hour))
}
