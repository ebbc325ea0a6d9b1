package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <session-id>",
		Short: "Pause a session and print its resume token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mesh, err := a.open()
			if err != nil {
				return err
			}

			token, err := mesh.Pause(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func newResumeCmd(a *app) *cobra.Command {
	var (
		token  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session; a paused LOOP continues from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mesh, err := a.open()
			if err != nil {
				return err
			}

			resp, resumeErr := mesh.Resume(cmd.Context(), args[0], token)
			if resp.Status != "" {
				if err := writeResponse(cmd.OutOrStdout(), resp, asJSON); err != nil {
					return err
				}
			}

			return resumeErr
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Resume token returned by pause")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [session-id]",
		Short: "Print session metrics, or the event metrics snapshot without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mesh, err := a.open()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return writeJSON(cmd.OutOrStdout(), mesh.Metrics())
			}

			metrics, err := mesh.SessionMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), metrics)
		},
	}
}
