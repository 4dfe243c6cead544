// Package circuit wraps the external trace-generator binary that turns a
// beacon-adapter input into a Cairo execution trace (spec.md §4.4). It
// follows the retrieval pack's operator.execOperatorCommand shape: run an
// external process, capture combined stdout/stderr, and surface failures
// with the captured output attached for diagnosis.
package circuit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/bankai-xyz/bankai/internal/errs"
)

// Runner invokes a named Cairo program binary against a JSON input payload.
type Runner struct {
	// BinaryPath is the trace-generator executable, analogous to
	// operator.BinaryPath().
	BinaryPath string
}

// NewRunner returns a Runner for the given trace-generator binary path.
func NewRunner(binaryPath string) *Runner {
	return &Runner{BinaryPath: binaryPath}
}

// Trace is the runner's output: a PIE/executable Cairo trace plus the
// program's public-memory outputs, ready for submission to the prover
// gateway.
type Trace struct {
	Bytes   []byte
	Outputs []string
}

// Run executes program against input (already JSON-marshaled circuit input,
// an EpochInput or CommitteeInput per spec.md §4.1), returning its trace.
// A non-zero exit is always permanent: the trace generator does not fail
// transiently, it fails because the input was invalid or the circuit
// cannot prove it (spec.md §4.4).
func (r *Runner) Run(ctx context.Context, program string, input json.RawMessage) (Trace, error) {
	tmp, err := os.CreateTemp("", "bankai-input-*.json")
	if err != nil {
		return Trace{}, errs.Wrap(errs.ErrInternal, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(input); err != nil {
		tmp.Close()
		return Trace{}, errs.Wrap(errs.ErrInternal, err)
	}
	if err := tmp.Close(); err != nil {
		return Trace{}, errs.Wrap(errs.ErrInternal, err)
	}

	outFile, err := os.CreateTemp("", "bankai-trace-*.bin")
	if err != nil {
		return Trace{}, errs.Wrap(errs.ErrInternal, err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	// nolint:gosec
	cmd := exec.CommandContext(ctx, r.BinaryPath,
		"run", program,
		"--input", tmp.Name(),
		"--trace-output", outPath,
	)
	stdout, err := execCommand(cmd)
	if err != nil {
		return Trace{}, err
	}

	traceBytes, err := os.ReadFile(outPath)
	if err != nil {
		return Trace{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("trace output missing after run: %w", err))
	}
	if len(traceBytes) == 0 {
		return Trace{}, errs.Wrap(errs.ErrSchema, fmt.Errorf("trace generator produced an empty trace for %s", program))
	}

	return Trace{
		Bytes:   traceBytes,
		Outputs: parseOutputs(string(stdout)),
	}, nil
}

// execCommand runs cmd, capturing combined stdout/stderr into the returned
// slice, following operator.execOperatorCommand.
func execCommand(c *exec.Cmd) ([]byte, error) {
	var buf bytes.Buffer
	c.Stdout = io.MultiWriter(&buf)
	c.Stderr = io.MultiWriter(&buf)

	if err := c.Run(); err != nil {
		return nil, errs.Wrap(errs.ErrSchema, fmt.Errorf("trace generator command '%s' failed: %s", strings.Join(c.Args, " "), buf.String()))
	}
	return buf.Bytes(), nil
}

// parseOutputs extracts the circuit's public-memory output lines, one per
// "OUTPUT: <value>" line the trace generator prints to stdout.
func parseOutputs(stdout string) []string {
	var outputs []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "OUTPUT: "); ok {
			outputs = append(outputs, v)
		}
	}
	return outputs
}
