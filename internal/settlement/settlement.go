// Package settlement implements the settlement adapter (C2): reads and
// writes against the Starknet light-client contract. The contract's ABI is
// treated as opaque (spec.md §4.2 Non-goals) — calls are made over the
// generic JSON-RPC transport the retrieval pack's EthAPI uses for Ethereum,
// since go-ethereum's rpc.Client speaks plain JSON-RPC regardless of the
// chain behind it.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bankai-xyz/bankai/internal/errs"
)

// Client is the settlement adapter. It wraps an rpc.Client dialed against a
// Starknet JSON-RPC endpoint (starknet_call/starknet_addInvokeTransaction),
// the same Call-based pattern EthAPI.GetProof uses against go-ethereum.
type Client struct {
	rpc        *rpc.Client
	address    string
	privateKey *ecdsa.PrivateKey

	retries   int
	retryWait time.Duration
}

// New dials rpcURL and derives the signer from the hex-encoded private key
// (empty string means read-only: write operations will fail fast).
func New(rpcURL, contractAddress, privateKeyHex string) (*Client, error) {
	rpcClient, err := rpc.Dial(rpcURL)
	if err != nil {
		return nil, errs.Wrap(errs.ErrNetwork, err)
	}

	var priv *ecdsa.PrivateKey
	if privateKeyHex != "" {
		priv, err = crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return nil, errs.Wrap(errs.ErrInternal, err)
		}
	}

	return &Client{
		rpc:        rpcClient,
		address:    contractAddress,
		privateKey: priv,
		retries:    6,
		retryWait:  10 * time.Second,
	}, nil
}

func (c *Client) Close() { c.rpc.Close() }

// --- Read operations (spec.md §4.2) ---

// LatestCommitteeID returns the highest committee period the contract has
// accepted a committee hash for.
func (c *Client) LatestCommitteeID(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "latest_committee_id")
}

// LatestEpochSlot returns the highest slot the contract has verified an
// epoch update for.
func (c *Client) LatestEpochSlot(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "latest_epoch_slot")
}

// CommitteeHash returns the stored aggregate-pubkey hash for committeeID, or
// ok=false if the contract has no entry for it.
func (c *Client) CommitteeHash(ctx context.Context, committeeID uint64) (hash string, ok bool, err error) {
	var out struct {
		Hash  string `json:"hash"`
		Found bool   `json:"found"`
	}
	if err := c.call(ctx, &out, "committee_hash", committeeID); err != nil {
		return "", false, err
	}
	return out.Hash, out.Found, nil
}

// EpochProof returns the stored execution-state-root inclusion proof for
// slot, or ok=false if absent.
func (c *Client) EpochProof(ctx context.Context, slot uint64) (stateRoot string, ok bool, err error) {
	var out struct {
		StateRoot string `json:"state_root"`
		Found     bool   `json:"found"`
	}
	if err := c.call(ctx, &out, "epoch_proof", slot); err != nil {
		return "", false, err
	}
	return out.StateRoot, out.Found, nil
}

// IsPaused reports whether the contract's admin pause flag is set; the
// executor treats a paused contract as a transient condition (spec.md
// §4.2), since it is expected to be lifted.
func (c *Client) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	if err := c.call(ctx, &paused, "is_paused"); err != nil {
		return false, err
	}
	return paused, nil
}

// --- Write operations (spec.md §4.2) ---

// SubmissionResult is returned by every write call: the transaction hash to
// persist immediately (monotone TxHash field) and the eventual receipt
// status resolved by AwaitReceipt.
type SubmissionResult struct {
	TxHash string
}

// VerifyCommitteeUpdate submits the wrapped committee-update proof.
func (c *Client) VerifyCommitteeUpdate(ctx context.Context, committeeID uint64, proofCalldata []string) (SubmissionResult, error) {
	return c.invoke(ctx, "verify_committee_update", committeeID, proofCalldata)
}

// VerifyEpochUpdate submits the wrapped single-epoch proof.
func (c *Client) VerifyEpochUpdate(ctx context.Context, slot uint64, proofCalldata []string) (SubmissionResult, error) {
	return c.invoke(ctx, "verify_epoch_update", slot, proofCalldata)
}

// VerifyEpochBatch submits the wrapped batch proof covering [beginEpoch,
// endEpoch].
func (c *Client) VerifyEpochBatch(ctx context.Context, beginEpoch, endEpoch uint64, proofCalldata []string) (SubmissionResult, error) {
	return c.invoke(ctx, "verify_epoch_batch", beginEpoch, endEpoch, proofCalldata)
}

// DecommitBatchedEpoch reveals one epoch's state root out of an
// already-verified batch commitment, using the Merkle path fetched from the
// persistence layer.
func (c *Client) DecommitBatchedEpoch(ctx context.Context, epoch uint64, merklePath []string) (SubmissionResult, error) {
	return c.invoke(ctx, "decommit_batched_epoch", epoch, merklePath)
}

// DeployContract deploys (or re-initializes) the verifier contract, seeding
// it with the genesis slot the light client should start trusting from.
func (c *Client) DeployContract(ctx context.Context, genesisSlot uint64) (SubmissionResult, error) {
	return c.invoke(ctx, "deploy_contract", genesisSlot)
}

// ReceiptStatus is the terminal settlement-transaction outcome.
type ReceiptStatus int

const (
	ReceiptUnknown ReceiptStatus = iota
	ReceiptSucceeded
	ReceiptReverted
)

// AwaitReceipt polls for the transaction's inclusion and final status,
// mirroring the retrieval pack's GetTxReciept polling loop but over
// starknet_getTransactionReceipt instead of eth_getTransactionReceipt.
func (c *Client) AwaitReceipt(ctx context.Context, txHash string) (ReceiptStatus, error) {
	deadline := time.Now().Add(2 * time.Minute)
	for {
		var out struct {
			Status string `json:"finality_status"`
			Execution string `json:"execution_status"`
		}
		err := c.call(ctx, &out, "starknet_getTransactionReceipt", txHash)
		if err == nil {
			switch out.Execution {
			case "SUCCEEDED":
				return ReceiptSucceeded, nil
			case "REVERTED":
				return ReceiptReverted, nil
			}
		} else if !errs.IsTransient(err) {
			return ReceiptUnknown, err
		}

		if time.Now().After(deadline) {
			return ReceiptUnknown, errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("receipt for %s not finalized within deadline", txHash))
		}
		select {
		case <-ctx.Done():
			return ReceiptUnknown, errs.Wrap(errs.ErrTimeout, ctx.Err())
		case <-time.After(3 * time.Second):
		}
	}
}

// --- transport plumbing ---

func (c *Client) invoke(ctx context.Context, method string, args ...any) (SubmissionResult, error) {
	if c.privateKey == nil {
		return SubmissionResult{}, errs.Wrap(errs.ErrInternal, fmt.Errorf("settlement client has no signing key configured"))
	}
	var txHash string
	callArgs := append([]any{c.address, method}, args...)
	if err := c.call(ctx, &txHash, "starknet_addInvokeTransaction", callArgs...); err != nil {
		return SubmissionResult{}, err
	}
	return SubmissionResult{TxHash: txHash}, nil
}

func (c *Client) callUint64(ctx context.Context, method string, args ...any) (uint64, error) {
	var out uint64
	if err := c.call(ctx, &out, method, args...); err != nil {
		return 0, err
	}
	return out, nil
}

// call performs a retried JSON-RPC call, following EthAPI.GetProof's
// retry(retries, wait, fn) shape, classifying the failure per spec.md §4.2:
// network/timeout errors are transient, anything the node returns as an
// explicit RPC error (invalid calldata, reverted call) is permanent.
func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err := c.rpc.CallContext(ctx, out, method, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransportErr(err) {
			return errs.Wrap(errs.ErrContractReverted, err)
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.ErrTimeout, ctx.Err())
		case <-time.After(c.retryWait):
		}
	}
	return errs.Wrap(errs.ErrNetwork, lastErr)
}

// isTransportErr distinguishes a dropped connection/timeout (retry) from an
// RPC error response from the node (don't retry: the call itself is bad).
func isTransportErr(err error) bool {
	type rpcError interface{ ErrorCode() int }
	_, isRPCErr := err.(rpcError)
	return !isRPCErr
}
