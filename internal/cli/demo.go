package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/supportmesh"
	"github.com/hupe1980/supportmesh/core"
)

const (
	demoParallelRequest   = "I have an issue with billing on my account"
	demoSequentialRequest = "Critical: Service is completely down"
	demoLoopRequest       = "My dashboard widgets show stale numbers"
)

func newDemoCmd(a *app) *cobra.Command {
	var (
		pause   time.Duration
		latency time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the four showcase scenarios",
		Long:  "demo processes a billing request in PARALLEL mode, escalates an outage in SEQUENTIAL mode, pauses and resumes a running LOOP and finally prints the session metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.conf.ToolLatency < latency {
				a.conf.ToolLatency = latency
			}

			mesh, err := a.open()
			if err != nil {
				return err
			}

			return runDemo(cmd.Context(), cmd.OutOrStdout(), mesh, pause)
		},
	}

	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "How long the LOOP session stays paused")
	cmd.Flags().DurationVar(&latency, "tool-latency", 100*time.Millisecond, "Minimum simulated tool latency")

	return cmd
}

func runDemo(ctx context.Context, w io.Writer, mesh *supportmesh.SupportMesh, pause time.Duration) error {
	fmt.Fprintln(w, "=== Test 1: Parallel Agent Execution ===")
	resp, err := mesh.Process(ctx, core.Request{Text: demoParallelRequest, Mode: core.ModeParallel})
	if err != nil {
		return fmt.Errorf("parallel scenario: %w", err)
	}
	if err := writeJSON(w, resp); err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Test 2: Sequential Agent Execution ===")
	resp, err = mesh.Process(ctx, core.Request{Text: demoSequentialRequest, Mode: core.ModeSequential})
	if err != nil {
		return fmt.Errorf("sequential scenario: %w", err)
	}
	if err := writeJSON(w, resp); err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Test 3: Long-Running Operations ===")
	sessionID, err := demoPauseResume(ctx, w, mesh, pause)
	if err != nil {
		return fmt.Errorf("pause/resume scenario: %w", err)
	}

	fmt.Fprintln(w, "=== Test 4: Observability & Metrics ===")
	metrics, err := mesh.SessionMetrics(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := writeJSON(w, metrics); err != nil {
		return err
	}

	return writeJSON(w, mesh.Metrics())
}

type processResult struct {
	resp core.Response
	err  error
}

// demoPauseResume starts a LOOP, pauses it after its first turn, waits and
// resumes it from the checkpoint.
func demoPauseResume(ctx context.Context, w io.Writer, mesh *supportmesh.SupportMesh, pause time.Duration) (string, error) {
	sessionID, err := mesh.OpenSession(ctx)
	if err != nil {
		return "", err
	}

	done := make(chan processResult, 1)
	go func() {
		resp, err := mesh.Process(ctx, core.Request{Text: demoLoopRequest, SessionID: sessionID, Mode: core.ModeLoop})
		done <- processResult{resp, err}
	}()

	if err := waitForTurn(ctx, mesh, sessionID, done); err != nil {
		return "", err
	}

	token, pauseErr := mesh.Pause(ctx, sessionID)

	res := <-done
	if res.err != nil {
		return "", res.err
	}

	if pauseErr != nil {
		// the loop finished before the pause landed
		if !errors.Is(pauseErr, core.ErrInvalidTransition) {
			return "", pauseErr
		}
		fmt.Fprintln(w, "Session finished before it could be paused")
		return sessionID, writeJSON(w, res.resp)
	}

	fmt.Fprintf(w, "Session paused at turn %d...\n", res.resp.Iteration)
	if err := writeJSON(w, res.resp); err != nil {
		return "", err
	}

	select {
	case <-time.After(pause):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	resp, err := mesh.Resume(ctx, sessionID, token)
	if err != nil {
		return "", err
	}

	fmt.Fprintln(w, "Session resumed")
	return sessionID, writeJSON(w, resp)
}

// waitForTurn blocks until the first loop turn of sessionID was recorded.
// A result on done means the loop ended before that; it is put back.
func waitForTurn(ctx context.Context, mesh *supportmesh.SupportMesh, sessionID string, done chan processResult) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, ev := range mesh.Trace(sessionID) {
			if ev.Kind == core.EventLoopTurn {
				return nil
			}
		}

		select {
		case res := <-done:
			done <- res
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
