// Package errs defines the error taxonomy shared by every adapter and by the
// job executor's retry policy. Every failure surfaced from an adapter must
// classify as transient (retryable) or permanent (terminal) per spec §7.
package errs

import (
	errorsmod "cosmossdk.io/errors"
)

const codespace = "bankai"

// Transient error kinds: the executor retries the step per the backoff
// schedule in internal/jobs.
var (
	ErrNetwork      = errorsmod.Register(codespace, 1, "transient: network failure")
	ErrTimeout      = errorsmod.Register(codespace, 2, "transient: deadline exceeded")
	ErrRemoteBusy   = errorsmod.Register(codespace, 3, "transient: remote service busy")
	ErrDbContention = errorsmod.Register(codespace, 4, "transient: database contention")

	// ErrPollPending marks a step that found work still in progress rather
	// than failed — a prover query still running, a paused contract, or a
	// committee hash not yet on-chain. It is
	// transient but deliberately excluded from the per-step retry budget:
	// spec's polling cadence is bounded by the job's wall-clock deadline,
	// not by retries_count.
	ErrPollPending = errorsmod.Register(codespace, 5, "transient: still in progress")
)

// Permanent error kinds: the executor moves the job straight to Error.
var (
	ErrSchema           = errorsmod.Register(codespace, 10, "permanent: response schema mismatch")
	ErrCryptoInvalid    = errorsmod.Register(codespace, 11, "permanent: cryptographic check failed")
	ErrContractReverted = errorsmod.Register(codespace, 12, "permanent: settlement transaction reverted")
	ErrForked           = errorsmod.Register(codespace, 13, "permanent: chain reorganized past the claimed slot")
	ErrInternal         = errorsmod.Register(codespace, 14, "permanent: internal invariant violated")
)

// Kind is the coarse classification used by the retry policy.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

// Classify reports whether err (as produced by an adapter) should be
// retried or should fail the job outright. Unrecognized errors are treated
// as permanent: an adapter that returns an unclassified error is a bug, and
// silently retrying it would just burn the retry budget.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	switch {
	case errorsmod.IsOf(err, ErrNetwork, ErrTimeout, ErrRemoteBusy, ErrDbContention, ErrPollPending):
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsTransient is a convenience wrapper around Classify.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// IsPollPending reports whether err marks work still in progress rather
// than an actual failure, so callers can exclude it from the retry budget.
func IsPollPending(err error) bool {
	return errorsmod.IsOf(err, ErrPollPending)
}

// Wrap attaches a registered sentinel (e.g. ErrDbContention) to cause,
// following the pack's errorsmod.Wrap(err, description) convention, so
// Classify can recover the sentinel via errorsmod.IsOf downstream.
func Wrap(sentinel *errorsmod.Error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errorsmod.Wrap(sentinel, cause.Error())
}
