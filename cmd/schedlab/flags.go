package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/jamesainslie/schedlab/pkg/schedlab/output"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Flags shared by the experiment commands.
var (
	multiCPU    bool
	liveView    bool
	metricsFile string
)

// parseConcurrency parses a worker count argument.
func parseConcurrency(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", types.ErrInvalidConcurrency, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d, need at least 1", types.ErrInvalidConcurrency, n)
	}
	return n, nil
}

// parseNice parses a niceness delta. Positive values lower the worker's
// priority; the kernel clamps the result to -20..19.
func parseNice(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid nice value %q: %w", s, err)
	}
	return n, nil
}

// modeFor returns the placement mode selected by -m.
func modeFor(multi bool) types.Mode {
	if multi {
		return types.ModeMultiCPU
	}
	return types.ModeSingleCPU
}

// getFormatter returns the report formatter by name. The template
// formatter uses --template when one is given.
func getFormatter(name string) (output.Formatter, error) {
	if name == "" {
		name = "pretty"
	}
	formatter, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", "))
	}
	if tf, ok := formatter.(*output.TemplateFormatter); ok {
		if tmpl := viper.GetString("template"); tmpl != "" {
			tf.SetTemplate(tmpl)
		}
	}
	return formatter, nil
}
