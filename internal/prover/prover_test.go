package prover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitTrace_ReturnsQueryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/trace", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"query_id": "q-123"}))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	id, err := c.SubmitTrace(context.Background(), []byte("pie-bytes"), "recursive_with_poseidon")
	require.NoError(t, err)
	require.Equal(t, "q-123", id)
}

func TestPoll_MapsGatewayStatuses(t *testing.T) {
	var status, reason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"status": status, "reason": reason}))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")

	status = "PENDING"
	s, _, err := c.Poll(context.Background(), "q-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, s)

	status = "DONE"
	s, _, err = c.Poll(context.Background(), "q-1")
	require.NoError(t, err)
	require.Equal(t, StatusDone, s)

	status, reason = "FAILED", "prover-internal"
	s, r, err := c.Poll(context.Background(), "q-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, s)
	require.Equal(t, ReasonProverInternal, r)

	status, reason = "FAILED", "input-invalid"
	s, r, err = c.Poll(context.Background(), "q-1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, s)
	require.Equal(t, ReasonInputInvalid, r)
}

func TestAwaitCompletion_ReturnsRunningWithoutErrorWhenBurstExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"status": "PENDING"}))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	s, _, err := c.AwaitCompletion(context.Background(), "q-1", time.Millisecond, time.Millisecond, 3)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, s)
}

func TestFetchArtifact_RejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.FetchArtifact(context.Background(), "q-1")
	require.Error(t, err)
}
