package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

var (
	outputMu     sync.RWMutex
	outputFormat = OutputFormatYAML
	outputWriter io.Writer = os.Stdout
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatYAML, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", s)
	}
}

// SetOutputFormat sets the format used by Output. It is set by the root
// command's --output flag.
func SetOutputFormat(format OutputFormat) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputFormat = format
}

// SetOutputWriter redirects Output, mostly for tests.
func SetOutputWriter(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputWriter = w
}

// Output writes data in the configured format.
func Output(data any) error {
	outputMu.RLock()
	w, format := outputWriter, outputFormat
	outputMu.RUnlock()
	return OutputTo(w, format, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		// Round-trip through JSON so json tags name the YAML keys.
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
