package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tmykhalevych/event-tracer/internal/texec"
)

func newTexecCommand(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "texec [trace-file]",
		Short: "Analyze task execution from JSON trace lines",
		Long: `Read JSON trace lines from a file or standard input and report, for
every START_CAPTURING..STOP_CAPTURING window, which task ran when, how
much of the window each task used, and the user messages raised.

Task names are resolved from TASK_CREATE and DUMP_SYSTEM_STATE events.
Lines that are not trace events are skipped.`,
		Example: `  evtrace simulate --output json | evtrace texec
  evtrace texec traces.jsonl --format yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := texec.ValidateFormat(format); err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open traces: %w", err)
				}
				defer file.Close()
				in = file
			}

			report, err := texec.Analyze(cmd.Context(), in)
			if err != nil {
				return err
			}
			opts.logger.Debug("Traces analyzed",
				zap.String("report_id", report.ID),
				zap.Int("events", report.Events),
				zap.Int("skipped", report.Skipped))

			return texec.Write(cmd.OutOrStdout(), report, format, opts.noColor)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format (text, json, yaml)")
	return cmd
}
