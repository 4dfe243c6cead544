// Package httpapi implements the read-only HTTP status facade (A2): job
// counts by status and the registry's latest verified heads, exposed as
// plain JSON over http.ServeMux. It carries no business logic of its own —
// every answer is a direct read from the store.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"cosmossdk.io/log"

	"github.com/bankai-xyz/bankai/internal/store"
)

// Store is the subset of persistence the facade reads from.
type Store interface {
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
	ReadCursor(ctx context.Context) (store.Cursor, bool, error)
	LatestVerifiedEpochSlot(ctx context.Context) (uint64, bool, error)
	LatestVerifiedCommitteeID(ctx context.Context) (uint64, bool, error)
}

// Server wraps a Store behind a *http.ServeMux.
type Server struct {
	store  Store
	logger log.Logger
	mux    *http.ServeMux
}

// New builds a Server; call Handler to obtain the http.Handler to serve.
func New(s Store, logger log.Logger) *Server {
	srv := &Server{store: s, logger: logger.With("component", "httpapi")}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/jobs/counts", srv.handleJobCounts)
	mux.HandleFunc("/registry/heads", srv.handleRegistryHeads)
	srv.mux = mux
	return srv
}

// Handler returns the facade's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobCountsResponse reports how many jobs currently sit at each status.
type jobCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

func (s *Server) handleJobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountJobsByStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobCountsResponse{Counts: counts})
}

// registryHeadsResponse reports the daemon's beacon-head cursor and the
// furthest epoch/committee the registry has recorded as verified.
type registryHeadsResponse struct {
	CursorSlot           uint64 `json:"cursor_slot,omitempty"`
	CursorBlockRoot      string `json:"cursor_block_root,omitempty"`
	LatestVerifiedEpoch  uint64 `json:"latest_verified_epoch,omitempty"`
	HasVerifiedEpoch     bool   `json:"has_verified_epoch"`
	LatestCommitteeID    uint64 `json:"latest_committee_id,omitempty"`
	HasVerifiedCommittee bool   `json:"has_verified_committee"`
}

func (s *Server) handleRegistryHeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := registryHeadsResponse{}

	if cursor, ok, err := s.store.ReadCursor(ctx); err != nil {
		s.writeError(w, err)
		return
	} else if ok {
		resp.CursorSlot = cursor.Slot
		resp.CursorBlockRoot = cursor.BlockRoot
	}

	if slot, ok, err := s.store.LatestVerifiedEpochSlot(ctx); err != nil {
		s.writeError(w, err)
		return
	} else if ok {
		resp.LatestVerifiedEpoch = slot
		resp.HasVerifiedEpoch = true
	}

	if id, ok, err := s.store.LatestVerifiedCommitteeID(ctx); err != nil {
		s.writeError(w, err)
		return
	} else if ok {
		resp.LatestCommitteeID = id
		resp.HasVerifiedCommittee = true
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("status facade query failed", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
