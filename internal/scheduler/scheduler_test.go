package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bankai-xyz/bankai/internal/beacon"
	"github.com/bankai-xyz/bankai/internal/circuit"
	"github.com/bankai-xyz/bankai/internal/config"
	"github.com/bankai-xyz/bankai/internal/events"
	"github.com/bankai-xyz/bankai/internal/executor"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/prover"
	"github.com/bankai-xyz/bankai/internal/settlement"
	"github.com/bankai-xyz/bankai/internal/store"
)

type stubHead struct{ slot uint64 }

func (s stubHead) FetchLatestHead(ctx context.Context) (beacon.Head, error) {
	return beacon.Head{Slot: s.slot, BlockRoot: "0xroot"}, nil
}

type noopBeacon struct{}

func (noopBeacon) FetchEpochProof(ctx context.Context, slot uint64) (beacon.EpochInput, error) {
	return beacon.EpochInput{Slot: slot}, nil
}
func (noopBeacon) FetchCommitteeUpdate(ctx context.Context, slot uint64) (beacon.CommitteeInput, error) {
	return beacon.CommitteeInput{Slot: slot}, nil
}

type noopCircuit struct{}

func (noopCircuit) Run(ctx context.Context, program string, input json.RawMessage) (circuit.Trace, error) {
	return circuit.Trace{Bytes: []byte("t")}, nil
}

type noopProver struct{}

func (noopProver) SubmitTrace(ctx context.Context, pie []byte, layout string) (string, error) {
	return "q1", nil
}
func (noopProver) SubmitWrapper(ctx context.Context, queryID string) (string, error) { return "w1", nil }
func (noopProver) AwaitCompletion(ctx context.Context, queryID string, base, cap time.Duration, maxAttempts int) (prover.Status, prover.FailureReason, error) {
	return prover.StatusDone, prover.ReasonUnspecified, nil
}
func (noopProver) FetchArtifact(ctx context.Context, queryID string) ([]byte, error) {
	return []byte("cd"), nil
}

type noopSettlement struct{}

func (noopSettlement) VerifyEpochUpdate(ctx context.Context, slot uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xa"}, nil
}
func (noopSettlement) VerifyEpochBatch(ctx context.Context, begin, end uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xb"}, nil
}
func (noopSettlement) VerifyCommitteeUpdate(ctx context.Context, committeeID uint64, calldata []string) (settlement.SubmissionResult, error) {
	return settlement.SubmissionResult{TxHash: "0xc"}, nil
}
func (noopSettlement) AwaitReceipt(ctx context.Context, txHash string) (settlement.ReceiptStatus, error) {
	return settlement.ReceiptSucceeded, nil
}
func (noopSettlement) LatestEpochSlot(ctx context.Context) (uint64, error) { return 0, nil }
func (noopSettlement) CommitteeHash(ctx context.Context, committeeID uint64) (string, bool, error) {
	return "0xcommittee", true, nil
}
func (noopSettlement) IsPaused(ctx context.Context) (bool, error) { return false, nil }

func newTestScheduler(t *testing.T, headSlot uint64) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exec := &executor.Executor{
		Store:      s,
		Beacon:     noopBeacon{},
		Settlement: noopSettlement{},
		Prover:     noopProver{},
		Circuit:    noopCircuit{},
		Sink:       events.NewRecorder(),
		Retry:      jobs.DefaultRetryPolicy(),
		CacheDir:   t.TempDir(),
	}

	cfg := config.Scheduler{
		// A zero concurrency cap makes the semaphore permanently
		// unacquirable, so jobs launched by tick() stay parked at Created
		// instead of racing through to Done before assertions run — these
		// tests only care what got enqueued, not how far it got driven.
		ConcurrencyCap:  0,
		BatchSize:       1,
		PollBaseDelay:   10 * time.Millisecond,
		PollMaxDelay:    50 * time.Millisecond,
		PollMaxAttempts: 6,
		JobDeadline:     time.Hour,
		HeadPollPeriod:  10 * time.Millisecond,
	}
	sched := New(s, stubHead{slot: headSlot}, exec, cfg, events.NewRecorder())
	return sched, s
}

func TestTick_EnqueuesCommitteeRotationAcrossBoundary(t *testing.T) {
	ctx := context.Background()
	sched, s := newTestScheduler(t, 8200)
	require.NoError(t, s.UpsertCursor(ctx, 8100, "0xprev"))

	sched.tick(ctx)

	list, err := s.ListResumable(ctx)
	require.NoError(t, err)
	var found bool
	for _, j := range list {
		if j.Kind == jobs.SyncCommitteeUpdate && j.Slot == 8192 {
			found = true
		}
	}
	require.True(t, found, "expected a SyncCommitteeUpdate job at the period boundary slot 8192")
}

func TestTick_EnqueuesEpochWorkOncePerBoundary(t *testing.T) {
	ctx := context.Background()
	sched, s := newTestScheduler(t, 100)
	require.NoError(t, s.UpsertCursor(ctx, 50, "0xprev"))

	sched.tick(ctx)

	list, err := s.ListResumable(ctx)
	require.NoError(t, err)
	var epochJobs int
	for _, j := range list {
		if j.Kind == jobs.EpochUpdate {
			epochJobs++
		}
	}
	require.GreaterOrEqual(t, epochJobs, 1)
}

func TestCommitteeInFlight_BlocksEpochEnqueueForSamePeriod(t *testing.T) {
	ctx := context.Background()
	sched, s := newTestScheduler(t, 100)

	committeeJob := jobs.NewJob(jobs.SyncCommitteeUpdate, 32, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, committeeJob))

	require.True(t, sched.committeeInFlight(ctx, 64))
}
