package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	eth2client "github.com/attestantio/go-eth2-client"
	"github.com/attestantio/go-eth2-client/api"
	ethttp "github.com/attestantio/go-eth2-client/http"
	"github.com/rs/zerolog"

	"github.com/bankai-xyz/bankai/internal/config"
	"github.com/bankai-xyz/bankai/internal/errs"
)

// Client is the beacon adapter (C1). It wraps attestantio/go-eth2-client
// for the endpoints it has typed providers for, and falls back to raw
// HTTP against the consensus-layer REST API for the rest (the light-client
// updates endpoint, and the block body for the sync aggregate and execution
// payload), the same mixed
// strategy the retrieval pack's BeaconAPIClient uses.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	svc  eth2client.Service
	url  string
	http *http.Client
	fork config.ForkSchedule
}

// New dials the beacon node at url and returns a ready Client.
func New(ctx context.Context, url string, fork config.ForkSchedule) (*Client, error) {
	cctx, cancel := context.WithCancel(ctx)
	svc, err := ethttp.New(cctx,
		ethttp.WithAddress(url),
		ethttp.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.ErrNetwork, err)
	}
	return &Client{
		ctx:    cctx,
		cancel: cancel,
		svc:    svc,
		url:    url,
		http:   &http.Client{Timeout: 30 * time.Second},
		fork:   fork,
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() { c.cancel() }

// FetchLatestHead implements fetch_latest_head. The returned slot must be
// strictly greater than the persisted cursor; callers enforce that.
func (c *Client) FetchLatestHead(ctx context.Context) (Head, error) {
	provider, ok := c.svc.(eth2client.BeaconBlockHeadersProvider)
	if !ok {
		return Head{}, errs.Wrap(errs.ErrInternal, fmt.Errorf("beacon client does not support header queries"))
	}
	resp, err := provider.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: "head"})
	if err != nil {
		return Head{}, classifyHTTPErr(err)
	}
	if resp == nil || resp.Data == nil {
		return Head{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("empty head header response"))
	}
	return Head{
		Slot:      uint64(resp.Data.Header.Message.Slot),
		BlockRoot: resp.Data.Root.String(),
	}, nil
}

// FetchEpochProof implements fetch_epoch_proof(slot). slot must be
// finalized; the adapter validates the response's own slot matches the
// request and returns Permanent::Forked on mismatch (spec.md §9 Open
// Question (b)).
func (c *Client) FetchEpochProof(ctx context.Context, slot uint64) (EpochInput, error) {
	headerProvider, ok := c.svc.(eth2client.BeaconBlockHeadersProvider)
	if !ok {
		return EpochInput{}, errs.Wrap(errs.ErrInternal, fmt.Errorf("beacon client does not support header queries"))
	}

	block := strconv.FormatUint(slot, 10)
	resp, err := headerProvider.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: block})
	if err != nil {
		return EpochInput{}, classifyHTTPErr(err)
	}
	if resp == nil || resp.Data == nil {
		return EpochInput{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("empty header response for slot %d", slot))
	}
	gotSlot := uint64(resp.Data.Header.Message.Slot)
	if gotSlot != slot {
		return EpochInput{}, errs.Wrap(errs.ErrForked, fmt.Errorf("beacon returned slot %d for requested slot %d", gotSlot, slot))
	}

	aggregate, err := c.fetchSyncAggregate(ctx, slot)
	if err != nil {
		return EpochInput{}, err
	}

	payload, err := c.fetchExecutionInclusion(ctx, slot)
	if err != nil {
		return EpochInput{}, err
	}

	return EpochInput{
		Slot:               slot,
		SignedHeaderRoot:   resp.Data.Root.String(),
		BeaconStateRoot:    resp.Data.Header.Message.StateRoot.String(),
		AggregateSignature: aggregate.Signature,
		NonSigners:         aggregate.NonSigners,
		NumSigners:         512 - len(aggregate.NonSigners),
		ExecutionPayload:   payload,
		ForkDomain:         c.forkDomainForSlot(slot),
		CommitteeID:        slot / 8192,
	}, nil
}

// FetchCommitteeUpdate implements fetch_committee_update(slot).
func (c *Client) FetchCommitteeUpdate(ctx context.Context, slot uint64) (CommitteeInput, error) {
	headerProvider, ok := c.svc.(eth2client.BeaconBlockHeadersProvider)
	if !ok {
		return CommitteeInput{}, errs.Wrap(errs.ErrInternal, fmt.Errorf("beacon client does not support header queries"))
	}
	block := strconv.FormatUint(slot, 10)
	resp, err := headerProvider.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: block})
	if err != nil {
		return CommitteeInput{}, classifyHTTPErr(err)
	}
	if resp == nil || resp.Data == nil {
		return CommitteeInput{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("empty header response for slot %d", slot))
	}
	gotSlot := uint64(resp.Data.Header.Message.Slot)
	if gotSlot != slot {
		return CommitteeInput{}, errs.Wrap(errs.ErrForked, fmt.Errorf("beacon returned slot %d for requested slot %d", gotSlot, slot))
	}

	aggregate, err := c.fetchSyncAggregate(ctx, slot)
	if err != nil {
		return CommitteeInput{}, err
	}

	update, err := c.fetchNextSyncCommittee(ctx, slot)
	if err != nil {
		return CommitteeInput{}, err
	}

	return CommitteeInput{
		Slot:                slot,
		CommitteeID:         slot / 8192,
		AggregatePubkeyHash: update.AggregatePubkeyHash,
		SignedHeaderRoot:    resp.Data.Root.String(),
		AggregateSignature:  aggregate.Signature,
		NonSigners:          aggregate.NonSigners,
		NumSigners:          512 - len(aggregate.NonSigners),
		ForkDomain:          c.forkDomainForSlot(slot),
	}, nil
}

type syncAggregateResult struct {
	Signature  string
	NonSigners []NonSigner
}

// fetchSyncAggregate hits the consensus-layer REST endpoint directly: the
// client library has no typed provider for the sync aggregate attached to
// a finalized block, the same gap the retrieval pack's BeaconAPIClient
// works around for the light-client bootstrap/update endpoints.
func (c *Client) fetchSyncAggregate(ctx context.Context, slot uint64) (syncAggregateResult, error) {
	url := fmt.Sprintf("%s/eth/v2/beacon/blocks/%d", c.url, slot)
	var body struct {
		Data struct {
			Message struct {
				Body struct {
					SyncAggregate struct {
						SyncCommitteeBits      string `json:"sync_committee_bits"`
						SyncCommitteeSignature string `json:"sync_committee_signature"`
					} `json:"sync_aggregate"`
				} `json:"body"`
			} `json:"message"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return syncAggregateResult{}, err
	}

	bits, err := decodeBitvector(body.Data.Message.Body.SyncAggregate.SyncCommitteeBits)
	if err != nil {
		return syncAggregateResult{}, errs.Wrap(errs.ErrSchema, err)
	}
	var nonSigners []NonSigner
	for i, signed := range bits {
		if !signed {
			nonSigners = append(nonSigners, NonSigner{Index: uint64(i)})
		}
	}

	return syncAggregateResult{
		Signature:  body.Data.Message.Body.SyncAggregate.SyncCommitteeSignature,
		NonSigners: nonSigners,
	}, nil
}

type executionInclusionResult = ExecutionPayloadInclusion

func (c *Client) fetchExecutionInclusion(ctx context.Context, slot uint64) (executionInclusionResult, error) {
	url := fmt.Sprintf("%s/eth/v2/beacon/blocks/%d", c.url, slot)
	var body struct {
		Data struct {
			Message struct {
				Body struct {
					ExecutionPayload struct {
						BlockHash   string `json:"block_hash"`
						BlockNumber string `json:"block_number"`
						StateRoot   string `json:"state_root"`
					} `json:"execution_payload"`
				} `json:"body"`
			} `json:"message"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return ExecutionPayloadInclusion{}, err
	}

	blockNumber, err := strconv.ParseUint(body.Data.Message.Body.ExecutionPayload.BlockNumber, 10, 64)
	if err != nil {
		return ExecutionPayloadInclusion{}, errs.Wrap(errs.ErrSchema, err)
	}

	return ExecutionPayloadInclusion{
		BlockHash:   body.Data.Message.Body.ExecutionPayload.BlockHash,
		BlockNumber: blockNumber,
		StateRoot:   body.Data.Message.Body.ExecutionPayload.StateRoot,
		GIndex:      9,
	}, nil
}

type committeeUpdateResult struct {
	AggregatePubkeyHash string
}

// fetchNextSyncCommittee mirrors BeaconAPIClient.GetLightClientUpdates:
// a direct GET against the light-client updates endpoint, parsed by hand
// since the typed client has no provider for it either.
func (c *Client) fetchNextSyncCommittee(ctx context.Context, slot uint64) (committeeUpdateResult, error) {
	period := slot / 8192
	url := fmt.Sprintf("%s/eth/v1/beacon/light_client/updates?start_period=%d&count=1", c.url, period)
	var body []struct {
		Data struct {
			NextSyncCommittee struct {
				AggregatePubkey string `json:"aggregate_pubkey"`
			} `json:"next_sync_committee"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return committeeUpdateResult{}, err
	}
	if len(body) == 0 {
		return committeeUpdateResult{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("no light client update for period %d", period))
	}
	return committeeUpdateResult{AggregatePubkeyHash: body[0].Data.NextSyncCommittee.AggregatePubkey}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrInternal, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrNetwork, err)
	}
	if len(body) == 0 {
		return errs.Wrap(errs.ErrNetwork, fmt.Errorf("empty response body from %s", url))
	}
	if resp.StatusCode >= 500 {
		return errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("%s: %d: %s", url, resp.StatusCode, body))
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return errs.Wrap(errs.ErrSchema, fmt.Errorf("%s: %d: %s", url, resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Wrap(errs.ErrSchema, fmt.Errorf("%s: unexpected status %d: %s", url, resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.ErrSchema, err)
	}
	return nil
}

// classifyHTTPErr distinguishes transient (timeout, 5xx, empty body) from
// permanent (400/404, schema mismatch) failures per spec.md §4.1.
func classifyHTTPErr(err error) error {
	if err == nil {
		return nil
	}
	if httpResp, ok := err.(interface{ StatusCode() int }); ok {
		code := httpResp.StatusCode()
		switch {
		case code >= 500, code == 0:
			return errs.Wrap(errs.ErrRemoteBusy, err)
		case code == http.StatusBadRequest, code == http.StatusNotFound:
			return errs.Wrap(errs.ErrSchema, err)
		}
	}
	return errs.Wrap(errs.ErrNetwork, err)
}

// decodeBitvector parses a "0x..."-prefixed hex bitvector into a []bool of
// one entry per bit, little-endian within each byte (SSZ bitvector
// convention).
func decodeBitvector(hexStr string) ([]bool, error) {
	if len(hexStr) < 2 || hexStr[:2] != "0x" {
		return nil, fmt.Errorf("malformed bitvector %q", hexStr)
	}
	raw := hexStr[2:]
	bits := make([]bool, 0, len(raw)*4)
	for i := 0; i+2 <= len(raw); i += 2 {
		var b byte
		if _, err := fmt.Sscanf(raw[i:i+2], "%02x", &b); err != nil {
			return nil, err
		}
		for bit := 0; bit < 8; bit++ {
			bits = append(bits, b&(1<<uint(bit)) != 0)
		}
	}
	return bits, nil
}

// forkDomainForSlot returns the fork-version byte string active at slot,
// used to derive the signing-root fork domain.
func (c *Client) forkDomainForSlot(slot uint64) string {
	epoch := slot / 32
	switch {
	case epoch >= c.fork.DenebForkEpoch:
		return c.fork.DenebForkVersion
	case epoch >= c.fork.CapellaForkEpoch:
		return c.fork.CapellaForkVersion
	case epoch >= c.fork.BellatrixForkEpoch:
		return c.fork.BellatrixForkVersion
	case epoch >= c.fork.AltairForkEpoch:
		return c.fork.AltairForkVersion
	default:
		return c.fork.GenesisForkVersion
	}
}
