package texec

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/tmykhalevych/event-tracer/internal/output"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
)

// ValidateFormat checks if the report format is supported
func ValidateFormat(format string) error {
	switch format {
	case "text", "human", "json", "yaml", "yml", "":
		return nil
	default:
		return fmt.Errorf("invalid report format: %s (must be one of: text, json, yaml)", format)
	}
}

// Write renders report in the given format.
func Write(w io.Writer, report *Report, format string, noColor bool) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeText(w, report, output.NewPalette(noColor))
	}
}

func taskLabel(task domain.TaskID, name string) string {
	if name == "" {
		return fmt.Sprintf("#%d", task)
	}
	return fmt.Sprintf("%s(%d)", name, task)
}

func writeText(w io.Writer, r *Report, p *output.Palette) error {
	var b strings.Builder

	title := fmt.Sprintf("Task execution report %s", r.ID)
	p.Heading.Fprintln(&b, title)
	b.WriteString(strings.Repeat(output.Separator, len(title)))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "events: %d  skipped: %d  out of order: %d  windows: %d  captured: %d\n",
		r.Events, r.Skipped, r.OutOfOrder, len(r.Windows), r.Captured)

	if len(r.Windows) == 0 {
		p.Warning.Fprintln(&b, "No START_CAPTURING event found, nothing to analyze")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteByte('\n')
	p.Heading.Fprintln(&b, "Tasks")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSLICES\tRUNTIME\tSHARE")
	for _, t := range r.Tasks {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%5.1f%%\n", taskLabel(t.Task, t.Name), t.Slices, t.Runtime, t.Share*100)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b.WriteByte('\n')
	p.Heading.Fprintln(&b, "Timeline")
	for _, s := range r.Slices {
		fmt.Fprintf(&b, "%s %s\n",
			p.Timestamp.Sprintf("%12d..%-12d", s.Start, s.End),
			p.Task.Sprint(taskLabel(s.Task, s.Name)))
	}

	if len(r.Messages) > 0 {
		b.WriteByte('\n')
		p.Heading.Fprintln(&b, "Messages")
		for _, m := range r.Messages {
			fmt.Fprintf(&b, "%s %s %s\n",
				p.Timestamp.Sprintf("%12d", m.TS),
				p.Task.Sprint(taskLabel(m.Task, m.Name)),
				p.User.Sprintf("%q", m.Text))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
