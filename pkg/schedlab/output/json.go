package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter formats the whole report as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter writes one compact JSON object per line: a metric per
// level when the run swept levels, a worker row otherwise.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	if len(r.Metrics) > 0 {
		for _, m := range r.Metrics {
			if err := encoder.Encode(m); err != nil {
				return err
			}
		}
		return nil
	}
	for _, row := range r.Workers {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

var _ Formatter = (*JSONLFormatter)(nil)
