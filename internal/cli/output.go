package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hupe1980/supportmesh/core"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResponse(w io.Writer, resp core.Response, asJSON bool) error {
	if asJSON {
		return writeJSON(w, resp)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "session:    %s\n", resp.SessionID)
	fmt.Fprintf(&b, "status:     %s\n", resp.Status)
	if resp.Category != "" {
		fmt.Fprintf(&b, "category:   %s\n", resp.Category)
	}
	fmt.Fprintf(&b, "resolution: %s\n", resp.ResolutionText)
	if resp.EscalationFlag {
		fmt.Fprintf(&b, "escalated:  yes (ticket %s)\n", resp.TicketID)
	}
	if resp.Partial {
		b.WriteString("partial:    yes\n")
	}
	if resp.ResumeToken != "" {
		fmt.Fprintf(&b, "paused at:  turn %d (token %s)\n", resp.Iteration, resp.ResumeToken)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeTrace(w io.Writer, events []core.Event) error {
	for _, ev := range events {
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, fmt.Sprintf("%s=%v", k, ev.Payload[k]))
		}

		if _, err := fmt.Fprintf(w, "%4d %s %-18s %s\n", ev.Seq, ev.Timestamp.Format("15:04:05.000"), ev.Kind, strings.Join(fields, " ")); err != nil {
			return err
		}
	}
	return nil
}
