package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bankai-xyz/bankai/internal/beacon"
	"github.com/bankai-xyz/bankai/internal/circuit"
	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/events"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/prover"
	"github.com/bankai-xyz/bankai/internal/settlement"
	"github.com/bankai-xyz/bankai/internal/store"
)

type fakeBeacon struct{}

func (fakeBeacon) FetchEpochProof(ctx context.Context, slot uint64) (beacon.EpochInput, error) {
	return beacon.EpochInput{Slot: slot, SignedHeaderRoot: "0xhdr", NumSigners: 500}, nil
}

func (fakeBeacon) FetchCommitteeUpdate(ctx context.Context, slot uint64) (beacon.CommitteeInput, error) {
	return beacon.CommitteeInput{Slot: slot, CommitteeID: slot / 8192, AggregatePubkeyHash: "0xagg"}, nil
}

type fakeCircuit struct{}

func (fakeCircuit) Run(ctx context.Context, program string, input json.RawMessage) (circuit.Trace, error) {
	return circuit.Trace{Bytes: []byte("trace-bytes"), Outputs: []string{"0x1"}}, nil
}

type fakeProver struct {
	traceStatus   prover.Status
	traceReason   prover.FailureReason
	wrapperStatus prover.Status
	wrapperReason prover.FailureReason

	submitCount int
}

func (f *fakeProver) SubmitTrace(ctx context.Context, pieBytes []byte, layout string) (string, error) {
	f.submitCount++
	return fmt.Sprintf("gen-query-%d", f.submitCount), nil
}

func (f *fakeProver) SubmitWrapper(ctx context.Context, queryID string) (string, error) {
	return "wrap-query-1", nil
}

func (f *fakeProver) AwaitCompletion(ctx context.Context, queryID string, base, cap time.Duration, maxAttempts int) (prover.Status, prover.FailureReason, error) {
	if strings.HasPrefix(queryID, "gen-query") {
		return f.traceStatus, f.traceReason, nil
	}
	return f.wrapperStatus, f.wrapperReason, nil
}

func (f *fakeProver) FetchArtifact(ctx context.Context, queryID string) ([]byte, error) {
	return []byte("calldata-bytes"), nil
}

type fakeSettlement struct {
	latestSlot           uint64
	committeeHashMissing bool
	paused               bool
}

func (f *fakeSettlement) VerifyEpochUpdate(ctx context.Context, slot uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xtx1"}, nil
}

func (f *fakeSettlement) VerifyEpochBatch(ctx context.Context, beginEpoch, endEpoch uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xtxbatch"}, nil
}

func (f *fakeSettlement) VerifyCommitteeUpdate(ctx context.Context, committeeID uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xtxcommittee"}, nil
}

func (f *fakeSettlement) AwaitReceipt(ctx context.Context, txHash string) (settlement.ReceiptStatus, error) {
	return settlement.ReceiptSucceeded, nil
}

func (f *fakeSettlement) LatestEpochSlot(ctx context.Context) (uint64, error) {
	return f.latestSlot, nil
}

func (f *fakeSettlement) CommitteeHash(ctx context.Context, committeeID uint64) (string, bool, error) {
	if f.committeeHashMissing {
		return "", false, nil
	}
	return "0xcommittee", true, nil
}

func (f *fakeSettlement) IsPaused(ctx context.Context) (bool, error) {
	return f.paused, nil
}

func newTestExecutor(t *testing.T, prv *fakeProver, stl *fakeSettlement) (*Executor, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &Executor{
		Store:         s,
		Beacon:        fakeBeacon{},
		Settlement:    stl,
		Prover:        prv,
		Circuit:       fakeCircuit{},
		Sink:          events.NewRecorder(),
		Retry:         jobs.DefaultRetryPolicy(),
		CacheDir:      t.TempDir(),
		PollBurstBase: time.Millisecond,
		PollBurstCap:  time.Millisecond,
	}, s
}

func TestStep_EpochUpdate_DrivesFullPipeline(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusDone, wrapperStatus: prover.StatusDone}
	stl := &fakeSettlement{latestSlot: 9000}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	sequence := []jobs.Status{
		jobs.Fetched, jobs.TraceGenerated, jobs.TraceSubmitted, jobs.ProofGenerated,
		jobs.WrapperSubmitted, jobs.ProofWrapped, jobs.OffchainReady, jobs.OnchainSubmitted,
		jobs.Confirmed, jobs.Done,
	}

	for _, want := range sequence {
		claimed, err := s.ClaimJob(ctx, job.JobID, job.Status)
		require.NoError(t, err)
		job, err = e.Step(ctx, claimed)
		require.NoError(t, err)
		require.Equal(t, want, job.Status)
	}

	require.Equal(t, "gen-query-1", job.GenerateQueryID)
	require.Equal(t, "wrap-query-1", job.WrapperQueryID)
	require.Equal(t, "0xtx1", job.TxHash)

	epoch, ok, err := s.GetVerifiedEpoch(ctx, 9000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xhdr", epoch.HeaderRoot)
}

func TestStep_SubmitOnchain_WaitsForOnchainCommitteeHash(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusDone, wrapperStatus: prover.StatusDone}
	stl := &fakeSettlement{latestSlot: 9000, committeeHashMissing: true}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.OffchainReady, store.StatusFields{}))
	require.NoError(t, e.writeCache(job.JobID, "calldata.hex", []byte("beef")))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.OffchainReady)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err)
	require.True(t, errs.IsPollPending(err), "missing on-chain committee hash must wait, not fail")

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.OffchainReady, got.Status)
	require.Equal(t, 0, got.RetriesCount)
}

func TestStep_SubmitOnchain_PausedContractIsPending(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusDone, wrapperStatus: prover.StatusDone}
	stl := &fakeSettlement{latestSlot: 9000, paused: true}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.OffchainReady, store.StatusFields{}))
	require.NoError(t, e.writeCache(job.JobID, "calldata.hex", []byte("beef")))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.OffchainReady)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err)
	require.True(t, errs.IsPollPending(err), "a paused contract must wait, not fail")
}

func TestStep_AwaitReceipt_ForkedSlotIsPermanent(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusDone, wrapperStatus: prover.StatusDone}
	stl := &fakeSettlement{latestSlot: 1234} // mismatched on purpose
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.OnchainSubmitted, store.StatusFields{
		TxHash: "0xtx1", SetTxHash: true,
	}))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.OnchainSubmitted)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err)

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.Error, got.Status)
}

func TestStep_TraceSubmitted_PollStillRunningIsTransient(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusRunning}
	stl := &fakeSettlement{}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.TraceSubmitted, store.StatusFields{
		GenerateQueryID: "gen-query-1", SetGenerateQueryID: true,
	}))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.TraceSubmitted)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err)

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.TraceSubmitted, got.Status, "still-running poll must not advance status")
	require.Equal(t, 0, got.RetriesCount, "a pending poll must not consume the retry budget")
}

func TestStep_TraceSubmitted_ProverInternalFailureResubmitsTrace(t *testing.T) {
	ctx := context.Background()
	// submitCount 1: the job's original trace submission already produced
	// gen-query-1, so the resubmission is the fake's second query.
	prv := &fakeProver{traceStatus: prover.StatusFailed, traceReason: prover.ReasonProverInternal, submitCount: 1}
	stl := &fakeSettlement{}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.TraceSubmitted, store.StatusFields{
		GenerateQueryID: "gen-query-1", SetGenerateQueryID: true,
	}))
	require.NoError(t, e.writeCache(job.JobID, "trace.bin", []byte("trace-bytes")))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.TraceSubmitted)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err, "a prover-internal failure reports a transient error so the scheduler retries")

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.TraceSubmitted, got.Status)
	require.Equal(t, 1, got.RetriesCount, "a genuine prover-internal failure does consume the retry budget")
	require.NotEqual(t, "gen-query-1", got.GenerateQueryID, "the trace must be resubmitted under a fresh query id")
}

func TestStep_TraceSubmitted_InputInvalidFailureIsPermanent(t *testing.T) {
	ctx := context.Background()
	prv := &fakeProver{traceStatus: prover.StatusFailed, traceReason: prover.ReasonInputInvalid}
	stl := &fakeSettlement{}
	e, s := newTestExecutor(t, prv, stl)

	job := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.JobID, jobs.TraceSubmitted, store.StatusFields{
		GenerateQueryID: "gen-query-1", SetGenerateQueryID: true,
	}))

	claimed, err := s.ClaimJob(ctx, job.JobID, jobs.TraceSubmitted)
	require.NoError(t, err)

	_, err = e.Step(ctx, claimed)
	require.Error(t, err)

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.Error, got.Status, "an input-invalid failure must not be retried")
}
