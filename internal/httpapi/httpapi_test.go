package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/bankai-xyz/bankai/internal/store"
)

type fakeStore struct {
	counts       map[string]int
	cursor       store.Cursor
	hasCursor    bool
	epochSlot    uint64
	hasEpoch     bool
	committeeID  uint64
	hasCommittee bool
}

func (f *fakeStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return f.counts, nil
}
func (f *fakeStore) ReadCursor(ctx context.Context) (store.Cursor, bool, error) {
	return f.cursor, f.hasCursor, nil
}
func (f *fakeStore) LatestVerifiedEpochSlot(ctx context.Context) (uint64, bool, error) {
	return f.epochSlot, f.hasEpoch, nil
}
func (f *fakeStore) LatestVerifiedCommitteeID(ctx context.Context) (uint64, bool, error) {
	return f.committeeID, f.hasCommittee, nil
}

func TestHandleJobCounts_ReturnsStoreCounts(t *testing.T) {
	srv := New(&fakeStore{counts: map[string]int{"Created": 2, "Done": 5}}, log.NewNopLogger())

	req := httptest.NewRequest("GET", "/jobs/counts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body jobCountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Counts["Created"])
	require.Equal(t, 5, body.Counts["Done"])
}

func TestHandleRegistryHeads_ReflectsLatestVerified(t *testing.T) {
	srv := New(&fakeStore{
		cursor:       store.Cursor{Slot: 100, BlockRoot: "0xroot"},
		hasCursor:    true,
		epochSlot:    96,
		hasEpoch:     true,
		committeeID:  3,
		hasCommittee: true,
	}, log.NewNopLogger())

	req := httptest.NewRequest("GET", "/registry/heads", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body registryHeadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, uint64(100), body.CursorSlot)
	require.Equal(t, uint64(96), body.LatestVerifiedEpoch)
	require.True(t, body.HasVerifiedEpoch)
	require.Equal(t, uint64(3), body.LatestCommitteeID)
}

func TestHandleRegistryHeads_EmptyRegistryReportsNoVerifiedHeads(t *testing.T) {
	srv := New(&fakeStore{}, log.NewNopLogger())

	req := httptest.NewRequest("GET", "/registry/heads", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body registryHeadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.HasVerifiedEpoch)
	require.False(t, body.HasVerifiedCommittee)
}
