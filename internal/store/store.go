// Package store implements the relational persistence layer (C5): jobs,
// the verified-epoch/committee registry, per-epoch Merkle paths, and the
// daemon cursor, following spec.md §4.5.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bankai-xyz/bankai/internal/errs"
	"github.com/bankai-xyz/bankai/internal/jobs"
)

// ErrAlreadyExists is returned by CreateJob when an active (kind, slot)
// job already exists (invariant i).
var ErrAlreadyExists = errors.New("store: an active job already exists for this (kind, slot)")

// ErrNotFound is returned when a lookup by key has no row.
var ErrNotFound = errors.New("store: not found")

// ErrClaimConflict is returned by ClaimJob when the job's status no longer
// matches expectedStatus: another executor already advanced it, or it
// doesn't exist.
var ErrClaimConflict = errors.New("store: claim failed, status changed under us")

// Store wraps a *sql.DB with Bankai's job/registry schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single-process daemon driving one sqlite file: serialize writers so
	// SQLITE_BUSY never surfaces as a spurious transient error under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateJob inserts a new job, failing with ErrAlreadyExists if an active
// (kind, slot) row already exists (invariant i, enforced at the DB layer by
// the partial unique index).
func (s *Store) CreateJob(ctx context.Context, j jobs.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, kind, status, slot, batch_begin_epoch, batch_end_epoch,
			generate_query_id, wrapper_query_id, tx_hash, failed_at_step, retries_count,
			last_failure_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, int(j.Kind), int(j.Status), j.Slot,
		nullUint64(j.BatchRange.Valid, j.BatchRange.BeginEpoch),
		nullUint64(j.BatchRange.Valid, j.BatchRange.EndEpoch),
		nullString(j.GenerateQueryID), nullString(j.WrapperQueryID), nullString(j.TxHash),
		nullString(j.FailedAtStep), j.RetriesCount, nullTime(j.HasFailure, j.LastFailureTime),
		j.CreatedAt, j.UpdatedAt,
	)
	if isUniqueConstraintErr(err) {
		return ErrAlreadyExists
	}
	return err
}

// FindActiveJob looks up the non-terminal job for (kind, slot), if any —
// the same uniqueness key invariant (i) enforces at the DB layer. CLI
// commands use this to resume an already-enqueued job instead of racing
// CreateJob's ErrAlreadyExists without a way to recover the existing row.
func (s *Store) FindActiveJob(ctx context.Context, kind jobs.Kind, slot uint64) (jobs.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, kind, status, slot, batch_begin_epoch, batch_end_epoch,
			generate_query_id, wrapper_query_id, tx_hash, failed_at_step, retries_count,
			last_failure_time, created_at, updated_at
		FROM jobs WHERE kind = ? AND slot = ? AND status NOT IN (?, ?)`,
		int(kind), slot, int(jobs.Done), int(jobs.Error))
	j, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return jobs.Job{}, false, nil
		}
		return jobs.Job{}, false, err
	}
	return j, true, nil
}

// ClaimJob atomically checks that job_id's status equals expectedStatus and
// bumps updated_at, returning the full row. This is the single-writer
// guarantee spec.md §3's "Lifecycle & ownership" requires: two concurrent
// executors racing on the same job will have exactly one succeed.
func (s *Store) ClaimJob(ctx context.Context, jobID string, expectedStatus jobs.Status) (jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Job{}, errs.Wrap(errs.ErrDbContention, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID)
	var status int
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Job{}, ErrNotFound
		}
		return jobs.Job{}, errs.Wrap(errs.ErrDbContention, err)
	}
	if jobs.Status(status) != expectedStatus {
		return jobs.Job{}, ErrClaimConflict
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE job_id = ? AND status = ?`, now, jobID, int(expectedStatus))
	if err != nil {
		return jobs.Job{}, errs.Wrap(errs.ErrDbContention, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return jobs.Job{}, errs.Wrap(errs.ErrDbContention, err)
	}
	if n == 0 {
		return jobs.Job{}, ErrClaimConflict
	}

	j, err := scanJobRow(tx.QueryRowContext(ctx, jobSelectByID, jobID))
	if err != nil {
		return jobs.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return jobs.Job{}, errs.Wrap(errs.ErrDbContention, err)
	}
	return j, nil
}

// StatusFields carries the state-specific columns a transition may set, in
// addition to the new status itself. Zero values leave a column
// unchanged, except where Set<Field> is explicitly requested, since query
// IDs are monotone: once set, never overwritten (spec.md §4.5).
type StatusFields struct {
	GenerateQueryID    string
	SetGenerateQueryID bool
	WrapperQueryID     string
	SetWrapperQueryID  bool
	TxHash             string
	SetTxHash          bool
}

// SetStatus writes the new status and any state-specific fields in one
// transaction (spec.md §4.5/§4.7(c)).
func (s *Store) SetStatus(ctx context.Context, jobID string, newStatus jobs.Status, fields StatusFields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if fields.SetGenerateQueryID {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET generate_query_id = ? WHERE job_id = ? AND generate_query_id IS NULL`, fields.GenerateQueryID, jobID); err != nil {
			return errs.Wrap(errs.ErrDbContention, err)
		}
	}
	if fields.SetWrapperQueryID {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET wrapper_query_id = ? WHERE job_id = ? AND wrapper_query_id IS NULL`, fields.WrapperQueryID, jobID); err != nil {
			return errs.Wrap(errs.ErrDbContention, err)
		}
	}
	if fields.SetTxHash {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET tx_hash = ? WHERE job_id = ? AND tx_hash IS NULL`, fields.TxHash, jobID); err != nil {
			return errs.Wrap(errs.ErrDbContention, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`, int(newStatus), now, jobID); err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return tx.Commit()
}

// ReplaceGenerateQueryID overwrites a job's generate_query_id, for a
// prover-internal failure that resubmits the trace under a fresh query.
// Unlike SetStatus's once-only field set, this is an explicit overwrite
// and leaves status untouched; the caller reports the resubmission as a
// transient step failure so the scheduler retries with the new id.
func (s *Store) ReplaceGenerateQueryID(ctx context.Context, jobID, queryID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET generate_query_id = ?, updated_at = ? WHERE job_id = ?`,
		queryID, time.Now().UTC(), jobID)
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// ReplaceWrapperQueryID overwrites a job's wrapper_query_id, mirroring
// ReplaceGenerateQueryID for a resubmitted wrapping request.
func (s *Store) ReplaceWrapperQueryID(ctx context.Context, jobID, queryID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET wrapper_query_id = ?, updated_at = ? WHERE job_id = ?`,
		queryID, time.Now().UTC(), jobID)
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// RecordFailure stamps failed_at_step and last_failure_time. For transient
// kinds, retries_count is incremented and status is left unchanged; for
// permanent kinds, the job moves to Error and retries_count is left as is.
func (s *Store) RecordFailure(ctx context.Context, jobID, step string, kind errs.Kind) error {
	now := time.Now().UTC()
	if kind == errs.KindPermanent {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, failed_at_step = ?,
				last_failure_time = ?, updated_at = ? WHERE job_id = ?`,
			int(jobs.Error), step, now, now, jobID)
		if err != nil {
			return errs.Wrap(errs.ErrDbContention, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET failed_at_step = ?, retries_count = retries_count + 1,
			last_failure_time = ?, updated_at = ? WHERE job_id = ?`,
		step, now, now, jobID)
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

const jobSelectByID = `
	SELECT job_id, kind, status, slot, batch_begin_epoch, batch_end_epoch,
		generate_query_id, wrapper_query_id, tx_hash, failed_at_step, retries_count,
		last_failure_time, created_at, updated_at
	FROM jobs WHERE job_id = ?`

// GetJob returns a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	return scanJobRow(s.db.QueryRowContext(ctx, jobSelectByID, jobID))
}

// ListResumable returns every non-terminal job, ordered by (slot,
// created_at), for the scheduler's boot-time resumption scan.
func (s *Store) ListResumable(ctx context.Context) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, kind, status, slot, batch_begin_epoch, batch_end_epoch,
			generate_query_id, wrapper_query_id, tx_hash, failed_at_step, retries_count,
			last_failure_time, created_at, updated_at
		FROM jobs WHERE status NOT IN (?, ?) ORDER BY slot, created_at`,
		int(jobs.Done), int(jobs.Error))
	if err != nil {
		return nil, errs.Wrap(errs.ErrDbContention, err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountJobsByStatus returns the number of jobs currently in each status,
// for the HTTP status facade's job-counts endpoint.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errs.Wrap(errs.ErrDbContention, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status int
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errs.Wrap(errs.ErrDbContention, err)
		}
		out[jobs.Status(status).String()] = count
	}
	return out, rows.Err()
}

// UpsertCursor writes the daemon cursor singleton.
func (s *Store) UpsertCursor(ctx context.Context, slot uint64, blockRoot string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_cursor (id, latest_known_beacon_slot, block_root, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET latest_known_beacon_slot = excluded.latest_known_beacon_slot,
			block_root = excluded.block_root, updated_at = excluded.updated_at`,
		slot, blockRoot, time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// Cursor is the daemon's last-known beacon head.
type Cursor struct {
	Slot      uint64
	BlockRoot string
}

// ReadCursor returns the persisted cursor, or ok=false if none exists yet
// (fresh DB).
func (s *Store) ReadCursor(ctx context.Context) (cursor Cursor, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT latest_known_beacon_slot, block_root FROM daemon_cursor WHERE id = 1`)
	if err := row.Scan(&cursor.Slot, &cursor.BlockRoot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, errs.Wrap(errs.ErrDbContention, err)
	}
	return cursor, true, nil
}

// VerifiedEpoch row, written only after on-chain settlement confirms.
type VerifiedEpoch struct {
	Slot                 uint64
	HeaderRoot           string
	BeaconStateRoot      string
	NSigners             int
	ExecutionBlockHash   string
	ExecutionBlockHeight uint64
}

// InsertVerifiedEpoch records a confirmed epoch. Called only from the
// Confirmed -> Done bookkeeping step.
func (s *Store) InsertVerifiedEpoch(ctx context.Context, e VerifiedEpoch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verified_epochs (slot, header_root, beacon_state_root, n_signers,
			execution_block_hash, execution_block_height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO NOTHING`,
		e.Slot, e.HeaderRoot, e.BeaconStateRoot, e.NSigners, e.ExecutionBlockHash, e.ExecutionBlockHeight, time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// GetVerifiedEpoch looks up a verified epoch by slot.
func (s *Store) GetVerifiedEpoch(ctx context.Context, slot uint64) (VerifiedEpoch, bool, error) {
	var e VerifiedEpoch
	row := s.db.QueryRowContext(ctx, `
		SELECT slot, header_root, beacon_state_root, n_signers, execution_block_hash, execution_block_height
		FROM verified_epochs WHERE slot = ?`, slot)
	if err := row.Scan(&e.Slot, &e.HeaderRoot, &e.BeaconStateRoot, &e.NSigners, &e.ExecutionBlockHash, &e.ExecutionBlockHeight); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerifiedEpoch{}, false, nil
		}
		return VerifiedEpoch{}, false, errs.Wrap(errs.ErrDbContention, err)
	}
	return e, true, nil
}

// LatestVerifiedEpochSlot returns the highest slot recorded in
// verified_epochs, for the HTTP status facade's registry-heads endpoint.
func (s *Store) LatestVerifiedEpochSlot(ctx context.Context) (slot uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT MAX(slot) FROM verified_epochs`)
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		return 0, false, errs.Wrap(errs.ErrDbContention, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return uint64(v.Int64), true, nil
}

// LatestVerifiedCommitteeID returns the highest committee id recorded in
// verified_sync_committees.
func (s *Store) LatestVerifiedCommitteeID(ctx context.Context) (committeeID uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT MAX(committee_id) FROM verified_sync_committees`)
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		return 0, false, errs.Wrap(errs.ErrDbContention, err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return uint64(v.Int64), true, nil
}

// InsertVerifiedSyncCommittee records the aggregate-key hash for a
// committee id, derived as slot / 8192.
func (s *Store) InsertVerifiedSyncCommittee(ctx context.Context, committeeID uint64, aggregateKeyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verified_sync_committees (committee_id, aggregate_key_hash, created_at)
		VALUES (?, ?, ?) ON CONFLICT(committee_id) DO NOTHING`,
		committeeID, aggregateKeyHash, time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// GetVerifiedSyncCommittee looks up the aggregate-key hash for a
// committee id.
func (s *Store) GetVerifiedSyncCommittee(ctx context.Context, committeeID uint64) (string, bool, error) {
	var hash string
	row := s.db.QueryRowContext(ctx, `SELECT aggregate_key_hash FROM verified_sync_committees WHERE committee_id = ?`, committeeID)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.ErrDbContention, err)
	}
	return hash, true, nil
}

// InsertEpochMerklePath records one epoch's authentication path inside its
// batch root.
func (s *Store) InsertEpochMerklePath(ctx context.Context, epochID uint64, pathIndex int, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epoch_merkle_paths (epoch_id, path_index, path, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(epoch_id, path_index) DO NOTHING`,
		epochID, pathIndex, path, time.Now().UTC())
	if err != nil {
		return errs.Wrap(errs.ErrDbContention, err)
	}
	return nil
}

// ListEpochMerklePaths returns every path row for a batch's epoch range.
func (s *Store) ListEpochMerklePaths(ctx context.Context, beginEpoch, endEpoch uint64) (map[uint64]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch_id, path FROM epoch_merkle_paths WHERE epoch_id BETWEEN ? AND ?`, beginEpoch, endEpoch)
	if err != nil {
		return nil, errs.Wrap(errs.ErrDbContention, err)
	}
	defer rows.Close()

	out := make(map[uint64]string)
	for rows.Next() {
		var id uint64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		out[id] = path
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRow(r rowScanner) (jobs.Job, error) {
	j, err := scanJob(r)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, ErrNotFound
	}
	return j, err
}

func scanJob(r rowScanner) (jobs.Job, error) {
	var j jobs.Job
	var kind, status int
	var batchBegin, batchEnd sql.NullInt64
	var generateQueryID, wrapperQueryID, txHash, failedAtStep sql.NullString
	var lastFailureTime sql.NullTime

	err := r.Scan(&j.JobID, &kind, &status, &j.Slot, &batchBegin, &batchEnd,
		&generateQueryID, &wrapperQueryID, &txHash, &failedAtStep, &j.RetriesCount,
		&lastFailureTime, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return jobs.Job{}, err
	}

	j.Kind = jobs.Kind(kind)
	j.Status = jobs.Status(status)
	if batchBegin.Valid && batchEnd.Valid {
		j.BatchRange = jobs.BatchRange{BeginEpoch: uint64(batchBegin.Int64), EndEpoch: uint64(batchEnd.Int64), Valid: true}
	}
	j.GenerateQueryID = generateQueryID.String
	j.WrapperQueryID = wrapperQueryID.String
	j.TxHash = txHash.String
	j.FailedAtStep = failedAtStep.String
	if lastFailureTime.Valid {
		j.LastFailureTime = lastFailureTime.Time
		j.HasFailure = true
	}
	j.HasFailure = j.RetriesCount > 0
	return j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUint64(valid bool, v uint64) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: valid}
}

func nullTime(valid bool, t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: valid}
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
