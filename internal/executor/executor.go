// Package executor implements the job executor (C7): the per-job driver
// that identifies a claimed job's outbound transition, performs its
// side-effecting step, and commits the new status in a single transaction
// (spec.md §4.7). Executors are stateless; the scheduler (C8) is
// responsible for claiming jobs and invoking Step repeatedly until a job
// reaches a terminal status.
package executor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bankai-xyz/bankai/internal/beacon"
	"github.com/bankai-xyz/bankai/internal/circuit"
	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/events"
	"github.com/bankai-xyz/bankai/internal/jobs"
	"github.com/bankai-xyz/bankai/internal/prover"
	"github.com/bankai-xyz/bankai/internal/settlement"
	"github.com/bankai-xyz/bankai/internal/store"
)

const (
	epochProgram      = "EpochProgram"
	epochBatchProgram = "EpochBatchProgram"
	committeeProgram  = "CommitteeProgram"
	proverLayout      = "recursive_with_poseidon"
	slotsPerPeriod    = 8192

	// pollBurstAttempts bounds how many quick in-call polls
	// AwaitCompletion performs before yielding StatusRunning back to the
	// caller, independent of the per-step retry budget.
	pollBurstAttempts = 3
)

// BeaconSource is the subset of the beacon adapter (C1) a job step needs.
type BeaconSource interface {
	FetchEpochProof(ctx context.Context, slot uint64) (beacon.EpochInput, error)
	FetchCommitteeUpdate(ctx context.Context, slot uint64) (beacon.CommitteeInput, error)
}

// TraceRunner is the subset of the circuit runner (C4) a job step needs.
type TraceRunner interface {
	Run(ctx context.Context, program string, input json.RawMessage) (circuit.Trace, error)
}

// ProverGateway is the subset of the prover gateway (C3) a job step needs.
type ProverGateway interface {
	SubmitTrace(ctx context.Context, pieBytes []byte, layout string) (string, error)
	SubmitWrapper(ctx context.Context, queryID string) (string, error)
	AwaitCompletion(ctx context.Context, queryID string, base, cap time.Duration, maxAttempts int) (prover.Status, prover.FailureReason, error)
	FetchArtifact(ctx context.Context, queryID string) ([]byte, error)
}

// SettlementTarget is the subset of the settlement adapter (C2) a job step
// needs.
type SettlementTarget interface {
	VerifyEpochUpdate(ctx context.Context, slot uint64, calldata []string) (settlement.SubmissionResult, error)
	VerifyEpochBatch(ctx context.Context, beginEpoch, endEpoch uint64, calldata []string) (settlement.SubmissionResult, error)
	VerifyCommitteeUpdate(ctx context.Context, committeeID uint64, calldata []string) (settlement.SubmissionResult, error)
	AwaitReceipt(ctx context.Context, txHash string) (settlement.ReceiptStatus, error)
	LatestEpochSlot(ctx context.Context) (uint64, error)
	CommitteeHash(ctx context.Context, committeeID uint64) (hash string, ok bool, err error)
	IsPaused(ctx context.Context) (bool, error)
}

// Executor wires together every adapter a job step might touch. One
// Executor is safe for concurrent use across many jobs: claim_job (C5)
// guarantees a given job is only ever driven by one caller at a time
// (spec.md §4.7). Each adapter is a narrow interface rather than a
// concrete client so tests can drive the state machine without a live
// beacon node, prover gateway, or Starknet RPC endpoint.
type Executor struct {
	Store      *store.Store
	Beacon     BeaconSource
	Settlement SettlementTarget
	Prover     ProverGateway
	Circuit    TraceRunner
	Sink       events.Sink
	Retry      jobs.RetryPolicy

	// CacheDir holds per-job input/trace/artifact caches keyed by job_id,
	// so a crash between steps (a) and (c) can rediscover in-flight state
	// (spec.md §4.7, edge policy (i)).
	CacheDir string

	// PollBurstBase and PollBurstCap bound AwaitCompletion's in-call
	// backoff when polling a prover query, distinct from the scheduler's
	// own longer poll cadence between Step calls.
	PollBurstBase time.Duration
	PollBurstCap  time.Duration
}

// Step executes exactly one outbound transition for job and returns the
// updated job. On a transient failure, the job's status is left unchanged
// and retries_count is incremented; the caller (the scheduler) decides
// whether to retry based on the retry policy. On a permanent failure, the
// job is moved to Error by the store itself.
func (e *Executor) Step(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	var (
		updated jobs.Job
		err     error
	)

	switch job.Status {
	case jobs.Created:
		updated, err = e.stepFetch(ctx, job)
	case jobs.Fetched:
		updated, err = e.stepGenerateTrace(ctx, job)
	case jobs.TraceGenerated:
		updated, err = e.stepSubmitTrace(ctx, job)
	case jobs.TraceSubmitted:
		updated, err = e.stepAwaitProof(ctx, job)
	case jobs.ProofGenerated:
		updated, err = e.stepSubmitWrapper(ctx, job)
	case jobs.WrapperSubmitted:
		updated, err = e.stepAwaitWrapper(ctx, job)
	case jobs.ProofWrapped:
		updated, err = e.stepFetchArtifact(ctx, job)
	case jobs.OffchainReady:
		updated, err = e.stepSubmitOnchain(ctx, job)
	case jobs.OnchainSubmitted:
		updated, err = e.stepAwaitReceipt(ctx, job)
	case jobs.Confirmed:
		updated, err = e.stepFinalize(ctx, job)
	default:
		return job, fmt.Errorf("executor: job %s has no outbound step from status %s", job.JobID, job.Status)
	}

	if err != nil {
		// A still-pending poll is not a failure: it never touches
		// retries_count, so the per-step retry budget governs genuine
		// failures only, not the number of times a job was found still
		// running (spec.md §4.3's polling cadence is bounded by the job's
		// wall-clock deadline, not by retry count).
		if !errs.IsPollPending(err) {
			kind := errs.Classify(err)
			if recErr := e.Store.RecordFailure(ctx, job.JobID, job.Status.String(), kind); recErr != nil {
				return job, recErr
			}
		}
		e.Sink.Emit(events.Event{
			JobID:      job.JobID,
			Kind:       job.Kind.String(),
			FromStatus: job.Status.String(),
			ToStatus:   job.Status.String(),
			Step:       job.Status.String(),
			Err:        err.Error(),
			At:         time.Now().UTC(),
		})
		return job, err
	}

	e.Sink.Emit(events.Event{
		JobID:      updated.JobID,
		Kind:       updated.Kind.String(),
		FromStatus: job.Status.String(),
		ToStatus:   updated.Status.String(),
		Step:       job.Status.String(),
		At:         time.Now().UTC(),
	})
	return updated, nil
}

// commit applies the transition locally, persists it, and returns the
// updated job — the single-transaction-persistence half of spec.md
// §4.7(c). fields carries whatever monotone columns this step sets.
func (e *Executor) commit(ctx context.Context, job jobs.Job, to jobs.Status, fields store.StatusFields) (jobs.Job, error) {
	next, err := job.Transition(to)
	if err != nil {
		return job, errs.Wrap(errs.ErrInternal, err)
	}
	if err := e.Store.SetStatus(ctx, job.JobID, to, fields); err != nil {
		return job, err
	}
	if fields.SetGenerateQueryID {
		next.GenerateQueryID = fields.GenerateQueryID
	}
	if fields.SetWrapperQueryID {
		next.WrapperQueryID = fields.WrapperQueryID
	}
	if fields.SetTxHash {
		next.TxHash = fields.TxHash
	}
	return next, nil
}

// --- Created -> Fetched ---

func (e *Executor) stepFetch(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	var payload any
	switch job.Kind {
	case jobs.EpochUpdate, jobs.EpochBatchUpdate:
		input, err := e.Beacon.FetchEpochProof(ctx, job.Slot)
		if err != nil {
			return job, err
		}
		payload = input
	case jobs.SyncCommitteeUpdate:
		input, err := e.Beacon.FetchCommitteeUpdate(ctx, job.Slot)
		if err != nil {
			return job, err
		}
		payload = input
	default:
		return job, errs.Wrap(errs.ErrInternal, fmt.Errorf("unrecognized job kind %s", job.Kind))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return job, errs.Wrap(errs.ErrInternal, err)
	}
	if err := e.writeCache(job.JobID, "input.json", raw); err != nil {
		return job, err
	}

	return e.commit(ctx, job, jobs.Fetched, store.StatusFields{})
}

// --- Fetched -> TraceGenerated ---

// stepGenerateTrace implements edge policy (i): it re-reads the cached
// input every time, so regeneration after a crash is deterministic and
// side-effect free on C1.
func (e *Executor) stepGenerateTrace(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	input, err := e.readCache(job.JobID, "input.json")
	if err != nil {
		return job, err
	}

	program := programFor(job.Kind)
	trace, err := e.Circuit.Run(ctx, program, input)
	if err != nil {
		return job, err
	}
	if err := e.writeCache(job.JobID, "trace.bin", trace.Bytes); err != nil {
		return job, err
	}

	return e.commit(ctx, job, jobs.TraceGenerated, store.StatusFields{})
}

// --- TraceGenerated -> TraceSubmitted ---

func (e *Executor) stepSubmitTrace(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	trace, err := e.readCache(job.JobID, "trace.bin")
	if err != nil {
		return job, err
	}

	queryID, err := e.Prover.SubmitTrace(ctx, trace, proverLayout)
	if err != nil {
		return job, err
	}

	return e.commit(ctx, job, jobs.TraceSubmitted, store.StatusFields{
		GenerateQueryID:    queryID,
		SetGenerateQueryID: true,
	})
}

// --- TraceSubmitted -> ProofGenerated ---

// stepAwaitProof implements edge policy (ii): gated on C3's poll returning
// Done for the trace-generation query. A prover-internal failure
// (transient: spec.md §4.3) resubmits the cached trace and retries rather
// than failing the job outright; an input-invalid failure is permanent.
func (e *Executor) stepAwaitProof(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	if job.GenerateQueryID == "" {
		return job, errs.Wrap(errs.ErrInternal, fmt.Errorf("job %s reached TraceSubmitted without a generate_query_id", job.JobID))
	}
	status, reason, err := e.Prover.AwaitCompletion(ctx, job.GenerateQueryID, e.PollBurstBase, e.PollBurstCap, pollBurstAttempts)
	if err != nil {
		return job, err
	}
	switch status {
	case prover.StatusDone:
		return e.commit(ctx, job, jobs.ProofGenerated, store.StatusFields{})
	case prover.StatusFailed:
		if reason == prover.ReasonProverInternal {
			return e.resubmitTrace(ctx, job)
		}
		return job, errs.Wrap(errs.ErrContractReverted, fmt.Errorf("prover reported trace generation failed for %s: %s", job.GenerateQueryID, reason))
	default:
		return job, errs.Wrap(errs.ErrPollPending, fmt.Errorf("trace generation for %s still in progress", job.GenerateQueryID))
	}
}

// resubmitTrace re-submits the cached trace after a prover-internal
// failure, overwriting the job's generate_query_id, and reports a
// transient error so the step is retried — counted against the retry
// budget, since this is a genuine failure rather than a pending poll.
func (e *Executor) resubmitTrace(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	oldQueryID := job.GenerateQueryID
	trace, err := e.readCache(job.JobID, "trace.bin")
	if err != nil {
		return job, err
	}
	queryID, err := e.Prover.SubmitTrace(ctx, trace, proverLayout)
	if err != nil {
		return job, err
	}
	if err := e.Store.ReplaceGenerateQueryID(ctx, job.JobID, queryID); err != nil {
		return job, err
	}
	job.GenerateQueryID = queryID
	return job, errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("prover reported internal failure for %s, resubmitted trace as %s", oldQueryID, queryID))
}

// --- ProofGenerated -> WrapperSubmitted ---

func (e *Executor) stepSubmitWrapper(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	// Edge policy (iii): wrapper_query_id must still be null here.
	if err := job.RequiresWrapperQueryIDAbsent(); err != nil {
		return job, errs.Wrap(errs.ErrInternal, err)
	}

	wrapperQueryID, err := e.Prover.SubmitWrapper(ctx, job.GenerateQueryID)
	if err != nil {
		return job, err
	}

	return e.commit(ctx, job, jobs.WrapperSubmitted, store.StatusFields{
		WrapperQueryID:    wrapperQueryID,
		SetWrapperQueryID: true,
	})
}

// --- WrapperSubmitted -> ProofWrapped ---

func (e *Executor) stepAwaitWrapper(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	if job.WrapperQueryID == "" {
		return job, errs.Wrap(errs.ErrInternal, fmt.Errorf("job %s reached WrapperSubmitted without a wrapper_query_id", job.JobID))
	}
	status, reason, err := e.Prover.AwaitCompletion(ctx, job.WrapperQueryID, e.PollBurstBase, e.PollBurstCap, pollBurstAttempts)
	if err != nil {
		return job, err
	}
	switch status {
	case prover.StatusDone:
		return e.commit(ctx, job, jobs.ProofWrapped, store.StatusFields{})
	case prover.StatusFailed:
		if reason == prover.ReasonProverInternal {
			return e.resubmitWrapper(ctx, job)
		}
		return job, errs.Wrap(errs.ErrContractReverted, fmt.Errorf("prover reported wrapping failed for %s: %s", job.WrapperQueryID, reason))
	default:
		return job, errs.Wrap(errs.ErrPollPending, fmt.Errorf("wrapping for %s still in progress", job.WrapperQueryID))
	}
}

// resubmitWrapper re-requests wrapping after a prover-internal failure,
// overwriting the job's wrapper_query_id, mirroring resubmitTrace.
func (e *Executor) resubmitWrapper(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	oldQueryID := job.WrapperQueryID
	wrapperQueryID, err := e.Prover.SubmitWrapper(ctx, job.GenerateQueryID)
	if err != nil {
		return job, err
	}
	if err := e.Store.ReplaceWrapperQueryID(ctx, job.JobID, wrapperQueryID); err != nil {
		return job, err
	}
	job.WrapperQueryID = wrapperQueryID
	return job, errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("prover reported internal failure for %s, resubmitted wrapper as %s", oldQueryID, wrapperQueryID))
}

// --- ProofWrapped -> OffchainReady ---

func (e *Executor) stepFetchArtifact(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	artifact, err := e.Prover.FetchArtifact(ctx, job.WrapperQueryID)
	if err != nil {
		return job, err
	}
	if err := e.writeCache(job.JobID, "calldata.hex", []byte(hex.EncodeToString(artifact))); err != nil {
		return job, err
	}
	return e.commit(ctx, job, jobs.OffchainReady, store.StatusFields{})
}

// --- OffchainReady -> OnchainSubmitted ---

func (e *Executor) stepSubmitOnchain(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	paused, err := e.Settlement.IsPaused(ctx)
	if err != nil {
		return job, err
	}
	if paused {
		return job, errs.Wrap(errs.ErrPollPending, fmt.Errorf("settlement contract is paused"))
	}

	// Edge policy / ordering guarantee §5(a): an epoch job must not reach
	// OnchainSubmitted before its period's committee hash is actually
	// persisted on-chain — checked here against the contract itself, not
	// just against the scheduler's in-DB committeeInFlight bookkeeping.
	if job.Kind == jobs.EpochUpdate || job.Kind == jobs.EpochBatchUpdate {
		if _, ok, err := e.Settlement.CommitteeHash(ctx, committeeIDForSlot(job.Slot)); err != nil {
			return job, err
		} else if !ok {
			return job, errs.Wrap(errs.ErrPollPending, fmt.Errorf("committee hash for period %d not yet on-chain", committeeIDForSlot(job.Slot)))
		}
	}

	calldataHex, err := e.readCache(job.JobID, "calldata.hex")
	if err != nil {
		return job, err
	}
	calldata := []string{"0x" + string(calldataHex)}

	var result settlement.SubmissionResult
	switch job.Kind {
	case jobs.EpochUpdate:
		result, err = e.Settlement.VerifyEpochUpdate(ctx, job.Slot, calldata)
	case jobs.EpochBatchUpdate:
		result, err = e.Settlement.VerifyEpochBatch(ctx, job.BatchRange.BeginEpoch, job.BatchRange.EndEpoch, calldata)
	case jobs.SyncCommitteeUpdate:
		result, err = e.Settlement.VerifyCommitteeUpdate(ctx, committeeIDForSlot(job.Slot), calldata)
	default:
		return job, errs.Wrap(errs.ErrInternal, fmt.Errorf("unrecognized job kind %s", job.Kind))
	}
	if err != nil {
		return job, err
	}

	return e.commit(ctx, job, jobs.OnchainSubmitted, store.StatusFields{
		TxHash:    result.TxHash,
		SetTxHash: true,
	})
}

// --- OnchainSubmitted -> Confirmed ---

// stepAwaitReceipt implements edge policy (iv): receipt must be Accepted
// and, for epoch jobs, the contract's own latest_epoch_slot must equal
// job.slot — otherwise a fork/front-run occurred and the failure is
// permanent.
func (e *Executor) stepAwaitReceipt(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	status, err := e.Settlement.AwaitReceipt(ctx, job.TxHash)
	if err != nil {
		return job, err
	}
	if status == settlement.ReceiptReverted {
		return job, errs.Wrap(errs.ErrContractReverted, fmt.Errorf("settlement tx %s reverted", job.TxHash))
	}
	if status != settlement.ReceiptSucceeded {
		return job, errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("settlement tx %s not yet finalized", job.TxHash))
	}

	if job.Kind == jobs.EpochUpdate {
		onchainSlot, err := e.Settlement.LatestEpochSlot(ctx)
		if err != nil {
			return job, err
		}
		if onchainSlot != job.Slot {
			return job, errs.Wrap(errs.ErrForked, fmt.Errorf("settlement latest_epoch_slot %d does not match job slot %d", onchainSlot, job.Slot))
		}
	}

	return e.commit(ctx, job, jobs.Confirmed, store.StatusFields{})
}

// --- Confirmed -> Done ---

// stepFinalize performs the post-settlement bookkeeping named in spec.md
// §4.6/§5: VerifiedEpoch / VerifiedSyncCommittee / EpochMerklePath rows are
// written only here, after confirmation, by the executor alone.
func (e *Executor) stepFinalize(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	input, err := e.readCache(job.JobID, "input.json")
	if err != nil {
		return job, err
	}

	switch job.Kind {
	case jobs.EpochUpdate:
		var epochInput beacon.EpochInput
		if err := json.Unmarshal(input, &epochInput); err != nil {
			return job, errs.Wrap(errs.ErrSchema, err)
		}
		if err := e.Store.InsertVerifiedEpoch(ctx, store.VerifiedEpoch{
			Slot:                 job.Slot,
			HeaderRoot:           epochInput.SignedHeaderRoot,
			BeaconStateRoot:      epochInput.BeaconStateRoot,
			NSigners:             epochInput.NumSigners,
			ExecutionBlockHash:   epochInput.ExecutionPayload.BlockHash,
			ExecutionBlockHeight: epochInput.ExecutionPayload.BlockNumber,
		}); err != nil {
			return job, err
		}
	case jobs.EpochBatchUpdate:
		for i, epoch := 0, job.BatchRange.BeginEpoch; epoch <= job.BatchRange.EndEpoch; i, epoch = i+1, epoch+1 {
			path := fmt.Sprintf("batch:%s:%d", job.JobID, i)
			if err := e.Store.InsertEpochMerklePath(ctx, epoch, i, path); err != nil {
				return job, err
			}
		}
	case jobs.SyncCommitteeUpdate:
		var committeeInput beacon.CommitteeInput
		if err := json.Unmarshal(input, &committeeInput); err != nil {
			return job, errs.Wrap(errs.ErrSchema, err)
		}
		if err := e.Store.InsertVerifiedSyncCommittee(ctx, committeeInput.CommitteeID, committeeInput.AggregatePubkeyHash); err != nil {
			return job, err
		}
	}

	return e.commit(ctx, job, jobs.Done, store.StatusFields{})
}

// --- helpers ---

func programFor(kind jobs.Kind) string {
	switch kind {
	case jobs.EpochUpdate:
		return epochProgram
	case jobs.EpochBatchUpdate:
		return epochBatchProgram
	case jobs.SyncCommitteeUpdate:
		return committeeProgram
	default:
		return ""
	}
}

func committeeIDForSlot(slot uint64) uint64 {
	return slot / slotsPerPeriod
}

func (e *Executor) writeCache(jobID, name string, data []byte) error {
	dir := filepath.Join(e.CacheDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrInternal, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return errs.Wrap(errs.ErrInternal, err)
	}
	return nil
}

func (e *Executor) readCache(jobID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(e.CacheDir, jobID, name))
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, fmt.Errorf("cache miss for %s/%s: %w", jobID, name, err))
	}
	return data, nil
}
