package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/jobs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateJob_RejectsDuplicateActiveSlotKind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j1 := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j1))

	j2 := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	err := s.CreateJob(ctx, j2)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateJob_AllowsNewJobAfterPriorTerminal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j1 := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j1))
	require.NoError(t, s.SetStatus(ctx, j1.JobID, jobs.Done, StatusFields{}))

	j2 := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j2))
}

func TestClaimJob_SingleWriterSemantics(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := jobs.NewJob(jobs.EpochUpdate, 9001, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j))

	claimed, err := s.ClaimJob(ctx, j.JobID, jobs.Created)
	require.NoError(t, err)
	require.Equal(t, jobs.Created, claimed.Status)

	// A second claim attempt at the same expected status must fail: this is
	// what makes two concurrent scheduler instances safe (scenario 6).
	_, err = s.ClaimJob(ctx, j.JobID, jobs.Created)
	require.ErrorIs(t, err, ErrClaimConflict)
}

func TestSetStatus_QueryIDsAreMonotone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := jobs.NewJob(jobs.EpochUpdate, 9002, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j))

	require.NoError(t, s.SetStatus(ctx, j.JobID, jobs.TraceSubmitted, StatusFields{
		GenerateQueryID: "query-1", SetGenerateQueryID: true,
	}))

	// Re-setting must not overwrite the already-persisted value (idempotence
	// property (b): re-invoking with the same result is a no-op).
	require.NoError(t, s.SetStatus(ctx, j.JobID, jobs.TraceSubmitted, StatusFields{
		GenerateQueryID: "query-2", SetGenerateQueryID: true,
	}))

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, "query-1", got.GenerateQueryID)
}

func TestRecordFailure_TransientKeepsStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := jobs.NewJob(jobs.EpochUpdate, 9003, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j))
	require.NoError(t, s.SetStatus(ctx, j.JobID, jobs.Fetched, StatusFields{}))

	require.NoError(t, s.RecordFailure(ctx, j.JobID, "TraceGenerated", errs.KindTransient))

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.Fetched, got.Status)
	require.Equal(t, 1, got.RetriesCount)
	require.True(t, got.HasFailure)
}

func TestRecordFailure_PermanentMovesToError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	j := jobs.NewJob(jobs.EpochUpdate, 9004, jobs.BatchRange{}, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, j))
	require.NoError(t, s.SetStatus(ctx, j.JobID, jobs.TraceSubmitted, StatusFields{
		GenerateQueryID: "q1", SetGenerateQueryID: true,
	}))

	require.NoError(t, s.RecordFailure(ctx, j.JobID, "TraceSubmitted", errs.KindPermanent))

	got, err := s.GetJob(ctx, j.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.Error, got.Status)
	require.Equal(t, "TraceSubmitted", got.FailedAtStep)
	require.Equal(t, 0, got.RetriesCount, "scenario 4: first permanent failure leaves retries_count at 0")
}

func TestListResumable_OrderedBySlotThenCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now().UTC()
	j1 := jobs.NewJob(jobs.EpochUpdate, 9100, jobs.BatchRange{}, now)
	j2 := jobs.NewJob(jobs.EpochUpdate, 9000, jobs.BatchRange{}, now.Add(time.Second))
	j3 := jobs.NewJob(jobs.EpochUpdate, 9050, jobs.BatchRange{}, now)
	require.NoError(t, s.CreateJob(ctx, j1))
	require.NoError(t, s.CreateJob(ctx, j2))
	require.NoError(t, s.CreateJob(ctx, j3))
	// A terminal (Done) job must not show up in the resumable list.
	j4 := jobs.NewJob(jobs.SyncCommitteeUpdate, 8192, jobs.BatchRange{}, now)
	require.NoError(t, s.CreateJob(ctx, j4))
	require.NoError(t, s.SetStatus(ctx, j4.JobID, jobs.Done, StatusFields{}))

	list, err := s.ListResumable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, uint64(9000), list[0].Slot)
	require.Equal(t, uint64(9050), list[1].Slot)
	require.Equal(t, uint64(9100), list[2].Slot)
}

func TestCursor_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.ReadCursor(ctx)
	require.NoError(t, err)
	require.False(t, ok, "fresh DB has no cursor")

	require.NoError(t, s.UpsertCursor(ctx, 8192, "0xdead"))
	cur, ok, err := s.ReadCursor(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(8192), cur.Slot)
	require.Equal(t, "0xdead", cur.BlockRoot)
}

func TestVerifiedSyncCommittee_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.GetVerifiedSyncCommittee(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.InsertVerifiedSyncCommittee(ctx, 1, "0xaggkey"))
	hash, ok, err := s.GetVerifiedSyncCommittee(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xaggkey", hash)
}

func TestEpochMerklePaths_BatchRange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := uint64(1000); i <= 1007; i++ {
		require.NoError(t, s.InsertEpochMerklePath(ctx, i, int(i-1000), "path-"+string(rune('a'+i-1000))))
	}

	paths, err := s.ListEpochMerklePaths(ctx, 1000, 1007)
	require.NoError(t, err)
	require.Len(t, paths, 8)
}
