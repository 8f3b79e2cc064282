package output

import (
	"fmt"
	"io"
	"os"

	"github.com/tmykhalevych/event-tracer/internal/client"
)

// Options tune a formatter created by NewFormatter.
type Options struct {
	// MaxMessageLen sizes the JSON line buffer
	MaxMessageLen int
	// NoColor disables colours in the human format
	NoColor bool
}

// NewFormatter creates a consumer for the given format
func NewFormatter(format string, w io.Writer, opts Options) (client.Consumer, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}

	switch ParseFormat(format) {
	case "json":
		return NewJSONFormatter(w, opts.MaxMessageLen), nil
	default:
		return NewHumanFormatter(w, opts.NoColor), nil
	}
}

// ValidateFormat checks if the format string is valid
func ValidateFormat(format string) error {
	switch format {
	case "human", "text", "json", "JSON", "":
		return nil
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: human, json)", format)
	}
}

// ParseFormat normalizes the format string
func ParseFormat(format string) string {
	switch format {
	case "json", "JSON":
		return "json"
	default:
		return "human"
	}
}
