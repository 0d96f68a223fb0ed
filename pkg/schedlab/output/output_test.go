package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

func sweepRun() *results.Run {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &results.Run{
		Dir: "/runs/cpuperf-1",
		Meta: results.Meta{
			ID:          "cpuperf-1",
			Kind:        results.KindCPUPerf,
			Mode:        "single",
			MaxNProc:    2,
			Checkpoints: 2,
			Calibration: types.CalibrationResult{LoopsPerMs: 250000, Loops: 1_000_000_000, Elapsed: 4 * time.Second},
			StartedAt:   started,
			FinishedAt:  started.Add(3 * time.Second),
		},
		Complete: true,
		Levels: []results.Level{
			{
				NProc: 1,
				Records: []types.ProgressRecord{
					{WorkerID: 0, Samples: []types.Checkpoint{{ElapsedMs: 5, Index: 0}, {ElapsedMs: 10, Index: 1}}},
				},
				Usage: []types.WorkerUsage{
					{NProc: 1, WorkerID: 0, PID: 100, Usage: types.ResourceUsage{Real: time.Second, User: 900 * time.Millisecond, VoluntarySwitches: 3, InvoluntarySwitches: 41}},
				},
			},
			{
				NProc: 2,
				Records: []types.ProgressRecord{
					{WorkerID: 1, Samples: []types.Checkpoint{{ElapsedMs: 7, Index: 0}}},
				},
				Usage: []types.WorkerUsage{
					{NProc: 2, WorkerID: 0, PID: 101, Exit: types.ExitStatus{Code: 2}},
					{NProc: 2, WorkerID: 1, PID: 102},
				},
			},
		},
		Metrics: []types.ConcurrencyMetric{
			{NProc: 1, AvgTurnaround: 1, Throughput: 1, TotalReal: 1},
			{NProc: 2, AvgTurnaround: 1.5, Throughput: 1.0 / 3, TotalReal: 2},
		},
		Stats: results.ReadStats{Rows: 10, Skipped: 1},
	}
}

func schedRun() *results.Run {
	run := sweepRun()
	run.Meta.Kind = results.KindSched
	run.Metrics = nil
	run.Complete = false
	run.Stats.Skipped = 0
	return run
}

func TestFromRun(t *testing.T) {
	r := FromRun(sweepRun())

	assert.Equal(t, "cpuperf-1", r.RunID)
	assert.Equal(t, "cpuperf", r.Kind)
	assert.Equal(t, 3*time.Second, r.Duration())
	assert.Equal(t, 1, r.Skipped)
	require.Len(t, r.Workers, 3)

	first := r.Workers[0]
	assert.Equal(t, 1, first.NProc)
	assert.Equal(t, 100, first.PID)
	assert.Equal(t, 10.0, first.FinalMs)
	assert.Equal(t, 2, first.Samples)
	assert.InDelta(t, 0.9, first.User, 1e-9)
	assert.True(t, first.HasUsage)
	assert.Equal(t, int64(3), first.VoluntarySwitches)
	assert.Equal(t, int64(41), first.InvoluntarySwitches)

	// Worker 0 of level 2 has usage but no progress record.
	assert.Equal(t, 2, r.Workers[1].NProc)
	assert.Equal(t, 0, r.Workers[1].WorkerID)
	assert.Equal(t, 0, r.Workers[1].Samples)

	warnings := strings.Join(r.Warnings, "\n")
	assert.Contains(t, warnings, "worker 0 (pid 101) exit 2")
	assert.Contains(t, warnings, "worker 1: 1 samples, want 2")
	assert.Contains(t, warnings, "1 malformed lines skipped")
	assert.NotContains(t, warnings, "did not complete")
}

func TestFromRunIncomplete(t *testing.T) {
	r := FromRun(schedRun())
	assert.Contains(t, r.Warnings, "run did not complete")
	assert.False(t, r.Complete)
}

func TestTableChoosesMetricsOrWorkers(t *testing.T) {
	header, rows := FromRun(sweepRun()).Table()
	assert.Equal(t, []string{"NPROC", "AVG_TURNAROUND", "THROUGHPUT", "TOTAL_REAL"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2", "1.5", "0.3333333333333333", "2"}, rows[1])

	header, rows = FromRun(schedRun()).Table()
	assert.Equal(t, "WORKER", header[1])
	require.Len(t, rows, 3)
	assert.Equal(t, "exit 2", rows[1][3])
	assert.Equal(t, []string{"3", "41"}, rows[0][8:])
}

func TestRegistry(t *testing.T) {
	assert.Equal(t,
		[]string{"csv", "json", "jsonl", "markdown", "plain", "pretty", "template", "tsv", "yaml"},
		Available())

	_, err := Get("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown formatter")

	reg := NewRegistry()
	reg.Register("custom", func() Formatter { return &TSVFormatter{} })
	f, err := reg.Get("custom")
	require.NoError(t, err)
	assert.IsType(t, &TSVFormatter{}, f)
}

func format(t *testing.T, name string, r *Report) string {
	t.Helper()
	f, err := Get(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	return buf.String()
}

func TestTSVFormatter(t *testing.T) {
	out := format(t, "tsv", FromRun(sweepRun()))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NPROC\tAVG_TURNAROUND\tTHROUGHPUT\tTOTAL_REAL", lines[0])
	assert.Equal(t, "1\t1\t1\t1", lines[1])
}

func TestCSVFormatter(t *testing.T) {
	out := format(t, "csv", FromRun(schedRun()))
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "PID", records[0][2])
	assert.Equal(t, "100", records[1][2])
}

func TestMarkdownFormatter(t *testing.T) {
	out := format(t, "markdown", FromRun(sweepRun()))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| NPROC | AVG_TURNAROUND | THROUGHPUT | TOTAL_REAL |", lines[0])
	assert.Equal(t, "|------|------|------|------|", lines[1])
	assert.Equal(t, `a\|b`, escapeMarkdownPipe("a|b"))
}

func TestPlainFormatter(t *testing.T) {
	out := format(t, "plain", FromRun(sweepRun()))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NPROC")
	assert.Contains(t, lines[2], "1.5")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrettyFormatter(t *testing.T) {
	out := format(t, "pretty", FromRun(sweepRun()))
	assert.Contains(t, out, "cpuperf-1")
	assert.Contains(t, out, "250,000 loops/ms")
	assert.Contains(t, out, "AVG_TURNAROUND")
	assert.Contains(t, out, "Warnings:")

	empty := FromRun(&results.Run{Meta: results.Meta{ID: "x"}, Complete: true})
	out = format(t, "pretty", empty)
	assert.Contains(t, out, "No results recorded")
}

func TestJSONFormatter(t *testing.T) {
	out := format(t, "json", FromRun(sweepRun()))
	assert.Contains(t, out, "{\n")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "cpuperf-1", parsed["run_id"])
	assert.Len(t, parsed["metrics"], 2)
	assert.Len(t, parsed["workers"], 3)

	calibration := parsed["calibration"].(map[string]interface{})
	assert.Equal(t, float64(250000), calibration["loops_per_ms"])
}

func TestJSONLFormatter(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(format(t, "jsonl", FromRun(sweepRun()))), "\n")
	require.Len(t, lines, 2)
	var m types.ConcurrencyMetric
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
	assert.Equal(t, 2, m.NProc)
	assert.Equal(t, 1.0/3, m.Throughput)

	lines = strings.Split(strings.TrimSpace(format(t, "jsonl", FromRun(schedRun()))), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"worker_id":0`)
}

func TestYAMLFormatter(t *testing.T) {
	out := format(t, "yaml", FromRun(sweepRun()))

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "cpuperf-1", parsed["run_id"])
	assert.Equal(t, "single", parsed["mode"])
	assert.Len(t, parsed["metrics"], 2)
}

func TestTemplateFormatter(t *testing.T) {
	out := format(t, "template", FromRun(sweepRun()))
	assert.Equal(t, "1\t1\t1\n2\t1.5\t0.3333333333333333\n", out)

	f := NewTemplateFormatter(`{{.RunID}} {{date .StartedAt "2006-01-02"}} {{comma .Calibration.LoopsPerMs}}{{range .Workers}} {{kib .MaxRSSKiB}}{{end}}`)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, FromRun(sweepRun())))
	assert.Equal(t, "cpuperf-1 2026-03-01 250,000 0 B 0 B 0 B", buf.String())

	f.SetTemplate("{{.Kind}}")
	buf.Reset()
	require.NoError(t, f.Format(&buf, FromRun(sweepRun())))
	assert.Equal(t, "cpuperf", buf.String())

	f.SetTemplate("{{.Missing")
	require.Error(t, f.Format(&buf, FromRun(sweepRun())))
}
