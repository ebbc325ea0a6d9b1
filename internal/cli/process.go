package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/supportmesh/core"
)

func newProcessCmd(a *app) *cobra.Command {
	var (
		sessionID string
		mode      string
		maxTurns  int
		asJSON    bool
		trace     bool
	)

	cmd := &cobra.Command{
		Use:   "process <request text>",
		Short: "Process one customer request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.ParseMode(mode)
			if err != nil {
				return err
			}

			mesh, err := a.open()
			if err != nil {
				return err
			}

			resp, procErr := mesh.Process(cmd.Context(), core.Request{
				Text:      strings.Join(args, " "),
				SessionID: sessionID,
				Mode:      m,
				MaxTurns:  maxTurns,
			})

			if resp.SessionID != "" {
				if err := writeResponse(cmd.OutOrStdout(), resp, asJSON); err != nil {
					return err
				}
				if trace {
					if err := writeTrace(cmd.OutOrStdout(), mesh.Trace(resp.SessionID)); err != nil {
						return err
					}
				}
			}

			return procErr
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an ACTIVE session (redis backend)")
	cmd.Flags().StringVar(&mode, "mode", "", "Execution mode: PARALLEL, SEQUENTIAL or LOOP (default from config)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "LOOP turn cap (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print the session trace")

	return cmd
}
