package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/flexgate/internal/server"
	"github.com/muurk/flexgate/internal/ui"
)

var (
	analyzeDump    bool
	analyzeSession string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.jsonl>",
	Short: "Summarize a WebSocket capture file",
	Long: `Read a capture file written by 'flexgate serve --analysis-dir' and
print one summary per WebSocket session. With --dump every message is
printed as a hex dump.`,
	Example: `  # Per-session summary
  flexgate analyze captures/capture-20260102-150405.jsonl

  # Hex dump of every message from one session
  flexgate analyze captures/capture-20260102-150405.jsonl --dump --session 4f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDump, "dump", false, "Print a hex dump of each message")
	analyzeCmd.Flags().StringVar(&analyzeSession, "session", "", "Only show this session")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	msgs, err := server.ReadCapture(f)
	if err != nil {
		return err
	}
	if analyzeSession != "" {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.SessionID == analyzeSession {
				kept = append(kept, m)
			}
		}
		msgs = kept
	}

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)
	p.PrintHeader(ui.NewHeader("Capture analysis", "flexgate analyze "+args[0],
		ui.Param{Key: "Messages", Value: strconv.Itoa(len(msgs))}))

	sessions := server.SummarizeCapture(msgs)
	if len(sessions) == 0 {
		p.PrintResult(ui.NewWarningResult("No messages captured"))
		return nil
	}
	for _, s := range sessions {
		p.PrintResult(ui.NewSuccessResult("Session "+s.SessionID,
			ui.Param{Key: "Remote", Value: s.RemoteAddr},
			ui.Param{Key: "Messages", Value: fmt.Sprintf("%d (%d text, %d binary)", s.Messages, s.Text, s.Binary)},
			ui.Param{Key: "Bytes", Value: strconv.Itoa(s.Bytes)},
			ui.Param{Key: "Span", Value: s.Last.Sub(s.First).Round(time.Millisecond).String()},
		))
	}

	if analyzeDump {
		for i := range msgs {
			if err := dumpMessage(out, &msgs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpMessage(w io.Writer, m *server.CapturedMessage) error {
	payload, err := m.Payload()
	if err != nil {
		return fmt.Errorf("message %d of %s: %w", m.MessageNum, m.SessionID, err)
	}
	_, _ = fmt.Fprintf(w, "# %s message %d, %s, %d bytes, %s\n",
		m.SessionID, m.MessageNum, m.MessageType, len(payload), m.Timestamp.Format(time.RFC3339Nano))
	_, _ = fmt.Fprintln(w, hex.Dump(payload))
	return nil
}
