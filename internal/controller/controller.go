// Package controller issues provision, stop, and liveness commands for remote
// job sessions through the remote command executor.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remote-job-supervisor/internal/executor"
)

// interCommandDelay spaces out setup commands to respect the executor's own
// rate limits.
const interCommandDelay = 1 * time.Second

const (
	probeCommand = `sh -c 'pgrep -f job-runner >/dev/null && echo running || echo stopped'`
	stopCommand  = `sh -c 'pkill -f job-runner || true'`
	statsCommand = `tail -n 40 job-runner.log`
)

// ErrUnknownProbeOutput is returned when the liveness probe prints neither
// sentinel. Callers treat it like a transport failure: state unknown, no restart.
var ErrUnknownProbeOutput = errors.New("controller: probe output has no sentinel")

// ProbeResult is the liveness probe outcome.
type ProbeResult struct {
	Alive  bool
	Output string
}

// Controller drives remote job lifecycle commands. It does no session
// bookkeeping; that stays with the session registry.
type Controller struct {
	exec  executor.Executor
	delay time.Duration
}

// New returns a controller over the given executor.
func New(exec executor.Executor) *Controller {
	return &Controller{exec: exec, delay: interCommandDelay}
}

// setupCommands is the ordered provisioning sequence. Each command is idempotent
// and assumes the previous ones succeeded, so execution is strictly in order
// with no partial-success continuation.
func setupCommands(jobParameters string) []string {
	return []string{
		`sh -c 'command -v ./job-runner >/dev/null || ./scripts/install-job-runner.sh'`,
		fmt.Sprintf("sh -c 'cat > job.config.json <<\"EOF\"\n%s\nEOF'", jobParameters),
		`sh -c 'nohup ./scripts/run-loop.sh >> job-runner.log 2>&1 & echo started'`,
	}
}

// ProvisionAndStart runs the setup sequence on resourceID. The first failing
// command aborts the whole operation; a fixed delay separates commands.
func (c *Controller) ProvisionAndStart(ctx context.Context, resourceID, jobParameters string) error {
	cmds := setupCommands(jobParameters)
	for i, cmd := range cmds {
		res, err := c.exec.Run(ctx, resourceID, cmd)
		if err != nil {
			return fmt.Errorf("provision step %d/%d: %w", i+1, len(cmds), err)
		}
		if res.Failed() {
			return fmt.Errorf("provision aborted at step %d/%d: status=%d output=%s",
				i+1, len(cmds), res.StatusCode, strings.TrimSpace(res.Output))
		}
		if i < len(cmds)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.delay):
			}
		}
	}
	return nil
}

// Stop terminates the job's processes on resourceID. The stop command treats
// "nothing was running" as success.
func (c *Controller) Stop(ctx context.Context, resourceID string) error {
	res, err := c.exec.Run(ctx, resourceID, stopCommand)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("stop failed: status=%d output=%s", res.StatusCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// Probe checks whether the job process is present on resourceID. A transport
// failure or a command failure means the state is unknown and must not be read
// as "job down"; only the stopped sentinel is liveness-negative.
func (c *Controller) Probe(ctx context.Context, resourceID string) (*ProbeResult, error) {
	res, err := c.exec.Run(ctx, resourceID, probeCommand)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, fmt.Errorf("%w: probe status=%d", executor.ErrTransport, res.StatusCode)
	}
	out := res.Output
	switch {
	case strings.Contains(out, "running"):
		return &ProbeResult{Alive: true, Output: out}, nil
	case strings.Contains(out, "stopped"):
		return &ProbeResult{Alive: false, Output: out}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProbeOutput, strings.TrimSpace(out))
}

// SampleStats runs the read-only diagnostics command and returns its raw output
// for the stats parser.
func (c *Controller) SampleStats(ctx context.Context, resourceID string) (string, error) {
	res, err := c.exec.Run(ctx, resourceID, statsCommand)
	if err != nil {
		return "", err
	}
	if res.Failed() {
		return "", fmt.Errorf("stats read failed: status=%d", res.StatusCode)
	}
	return res.Output, nil
}
