// Package render provides centralized output rendering for the keel CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format always overrides defaults
//   - Invalid formats are errors
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/keelci/keel/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the format
// selection rules.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	return &Renderer{format: format, out: os.Stdout}, nil
}

// NewRendererWithWriter creates a renderer with an explicit format and
// writer, for tests.
func NewRendererWithWriter(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// Report renders a build report.
func (r *Renderer) Report(report *types.BuildReport) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		return yaml.NewEncoder(r.out).Encode(report)
	case FormatTable:
		return r.reportTable(report)
	default:
		return fmt.Errorf("unknown format %q", r.format)
	}
}

func (r *Renderer) reportTable(report *types.BuildReport) error {
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "BUILD\t%s\tversion %s\t%s\t%s\n",
		report.BuildID, report.Version, report.Status, report.Duration.Round(timeUnit))
	fmt.Fprintln(w, "PHASE\tVARIANT\tSTATUS\tDURATION")
	for _, p := range report.Phases {
		for _, v := range p.Variants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Phase, v.Variant, v.Status, v.Duration.Round(timeUnit))
		}
	}
	return w.Flush()
}

// timeUnit rounds durations for table display.
const timeUnit = 10 * time.Millisecond

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
