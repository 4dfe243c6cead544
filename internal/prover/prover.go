// Package prover implements the prover-gateway adapter (C3): trace and
// wrapper submission, polling, and artifact retrieval against Atlantic
// (spec.md §4.3). Polling backoff follows the retrieval pack's
// retry.Do/retry.Unrecoverable pattern (dockerutil.PruneVolumesWithRetry),
// swapped onto the gateway's job-status endpoint instead of a Docker prune.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/bankai-xyz/bankai/internal/errs"
)

// Client is the prover-gateway adapter.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a gateway client for baseURL, authenticating with apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Status is the gateway's reported job status (spec.md §4.3): a query is
// either still running, done, or failed outright.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusDone
	StatusFailed
)

// FailureReason classifies a StatusFailed result per spec.md §4.3:
// prover-internal failures are transient (resubmit the trace and retry),
// input-invalid failures are permanent (the claimed beacon state itself
// cannot be proven).
type FailureReason int

const (
	ReasonUnspecified FailureReason = iota
	ReasonProverInternal
	ReasonInputInvalid
)

func (r FailureReason) String() string {
	switch r {
	case ReasonProverInternal:
		return "prover-internal"
	case ReasonInputInvalid:
		return "input-invalid"
	default:
		return "unspecified"
	}
}

func parseFailureReason(reason string) FailureReason {
	switch reason {
	case "prover-internal":
		return ReasonProverInternal
	case "input-invalid":
		return ReasonInputInvalid
	default:
		return ReasonUnspecified
	}
}

// SubmitTrace uploads a PIE archive produced by the circuit runner (C4) and
// returns the gateway's query_id for polling. Grounded on the multipart
// upload the retrieval pack has no library for anywhere (no HTTP upload
// library appears in the pack), so this is built directly on net/http and
// mime/multipart per spec.md §4.3.
func (c *Client) SubmitTrace(ctx context.Context, pieBytes []byte, layout string) (queryID string, err error) {
	return c.submit(ctx, "/v1/trace", map[string][]byte{
		"pie":    pieBytes,
		"layout": []byte(layout),
	})
}

// SubmitWrapper requests wrapping of an already-proven query into its
// on-chain-verifiable form and returns the wrapper's own query_id.
func (c *Client) SubmitWrapper(ctx context.Context, queryID string) (wrapperQueryID string, err error) {
	return c.submit(ctx, "/v1/wrapper", map[string][]byte{
		"query_id": []byte(queryID),
	})
}

func (c *Client) submit(ctx context.Context, path string, fields map[string][]byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, content := range fields {
		part, err := writer.CreateFormFile(name, name)
		if err != nil {
			return "", errs.Wrap(errs.ErrInternal, err)
		}
		if _, err := part.Write(content); err != nil {
			return "", errs.Wrap(errs.ErrInternal, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", errs.Wrap(errs.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return "", errs.Wrap(errs.ErrInternal, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out struct {
		QueryID string `json:"query_id"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.QueryID == "" {
		return "", errs.Wrap(errs.ErrSchema, fmt.Errorf("gateway response for %s carried no query_id", path))
	}
	return out.QueryID, nil
}

// Poll reports the current status of queryID without blocking, plus the
// failure reason when the status is StatusFailed.
func (c *Client) Poll(ctx context.Context, queryID string) (Status, FailureReason, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/query/"+queryID, nil)
	if err != nil {
		return StatusUnknown, ReasonUnspecified, errs.Wrap(errs.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return StatusUnknown, ReasonUnspecified, err
	}
	switch out.Status {
	case "IN_PROGRESS", "PENDING":
		return StatusRunning, ReasonUnspecified, nil
	case "DONE", "SUCCEEDED":
		return StatusDone, ReasonUnspecified, nil
	case "FAILED":
		return StatusFailed, parseFailureReason(out.Reason), nil
	default:
		return StatusUnknown, ReasonUnspecified, errs.Wrap(errs.ErrSchema, fmt.Errorf("unrecognized gateway status %q", out.Status))
	}
}

// AwaitCompletion polls queryID a short burst of up to maxAttempts times,
// backing off between attempts, to ride over a transient network hiccup
// talking to the gateway and to coalesce a quick succession of in-flight
// checks into one call — the same retry.Do/retry.Unrecoverable shape
// PruneVolumesWithRetry uses to give up immediately on a non-retryable
// outcome rather than burn its whole attempt budget on it. It does not
// block for the query's full runtime: if the burst is exhausted while the
// query is still running, it returns (StatusRunning, _, nil) rather than
// an error, leaving the caller's own, longer poll cadence (bounded by the
// job's wall-clock deadline, not by this burst) to check again later.
func (c *Client) AwaitCompletion(ctx context.Context, queryID string, base, cap time.Duration, maxAttempts int) (Status, FailureReason, error) {
	var (
		status Status
		reason FailureReason
	)
	err := retry.Do(
		func() error {
			s, r, err := c.Poll(ctx, queryID)
			if err != nil {
				if !errs.IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			status, reason = s, r
			if s == StatusRunning {
				return fmt.Errorf("query %s still running", queryID)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(base),
		retry.MaxDelay(cap),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if status == StatusRunning {
			return StatusRunning, ReasonUnspecified, nil
		}
		return StatusUnknown, ReasonUnspecified, errs.Wrap(errs.ErrRemoteBusy, err)
	}
	return status, reason, nil
}

// FetchArtifact downloads the completed proof or wrapped-proof calldata for
// queryID.
func (c *Client) FetchArtifact(ctx context.Context, queryID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/query/"+queryID+"/artifact", nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrNetwork, err)
	}
	if resp.StatusCode >= 500 {
		return nil, errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("gateway status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Wrap(errs.ErrSchema, fmt.Errorf("gateway status %d fetching artifact for %s", resp.StatusCode, queryID))
	}
	if len(body) == 0 {
		return nil, errs.Wrap(errs.ErrNetwork, fmt.Errorf("empty artifact body for %s", queryID))
	}
	return body, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrNetwork, err)
	}
	if len(body) == 0 {
		return errs.Wrap(errs.ErrNetwork, fmt.Errorf("empty response body from %s", req.URL))
	}
	if resp.StatusCode >= 500 {
		return errs.Wrap(errs.ErrRemoteBusy, fmt.Errorf("gateway status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return errs.Wrap(errs.ErrSchema, fmt.Errorf("gateway status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Wrap(errs.ErrSchema, fmt.Errorf("gateway unexpected status %d: %s", resp.StatusCode, body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.ErrSchema, err)
	}
	return nil
}
