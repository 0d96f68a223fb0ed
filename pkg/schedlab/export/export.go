// Package export writes sweep results in the Prometheus text exposition
// format, for node_exporter's textfile collector or any scraper that reads
// files.
package export

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

const namespace = "schedlab"

// Metric descriptor indices and descriptor table
const (
	turnaroundDesc = iota
	throughputDesc
	levelRealDesc
	workerCPUDesc
	workerRealDesc
	calibrationDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	turnaroundDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "level", "avg_turnaround_seconds"),
		"Average worker turnaround of a concurrency level.",
		[]string{"run", "mode", "nproc"}, nil,
	),
	throughputDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "level", "throughput_workers_per_second"),
		"Completed workers per second of a concurrency level.",
		[]string{"run", "mode", "nproc"}, nil,
	),
	levelRealDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "level", "real_seconds"),
		"Wall-clock span of a concurrency level.",
		[]string{"run", "mode", "nproc"}, nil,
	),
	workerCPUDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "cpu_seconds"),
		"CPU time of a worker by mode (user or sys).",
		[]string{"run", "nproc", "worker", "type"}, nil,
	),
	workerRealDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "real_seconds"),
		"Wall-clock time of a worker from spawn to reap.",
		[]string{"run", "nproc", "worker"}, nil,
	),
	calibrationDesc: prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "calibration", "loops_per_millisecond"),
		"Calibrated work iterations per millisecond.",
		[]string{"run"}, nil,
	),
}

// Snapshot is the data exported for one run.
type Snapshot struct {
	RunID       string
	Mode        types.Mode
	Calibration types.CalibrationResult
	Metrics     []types.ConcurrencyMetric
	Usage       []types.WorkerUsage
}

type collector struct {
	snap Snapshot
}

// NewCollector returns a prometheus.Collector over snap.
func NewCollector(snap Snapshot) prometheus.Collector {
	return &collector{snap: snap}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	run, mode := c.snap.RunID, c.snap.Mode.String()

	if c.snap.Calibration.LoopsPerMs > 0 {
		ch <- prometheus.MustNewConstMetric(descriptors[calibrationDesc],
			prometheus.GaugeValue, float64(c.snap.Calibration.LoopsPerMs), run)
	}

	for _, m := range c.snap.Metrics {
		n := strconv.Itoa(m.NProc)
		ch <- prometheus.MustNewConstMetric(descriptors[turnaroundDesc],
			prometheus.GaugeValue, m.AvgTurnaround, run, mode, n)
		ch <- prometheus.MustNewConstMetric(descriptors[throughputDesc],
			prometheus.GaugeValue, m.Throughput, run, mode, n)
		ch <- prometheus.MustNewConstMetric(descriptors[levelRealDesc],
			prometheus.GaugeValue, m.TotalReal, run, mode, n)
	}

	for _, u := range c.snap.Usage {
		n, w := strconv.Itoa(u.NProc), strconv.Itoa(u.WorkerID)
		ch <- prometheus.MustNewConstMetric(descriptors[workerCPUDesc],
			prometheus.GaugeValue, u.Usage.UserSeconds(), run, n, w, "user")
		ch <- prometheus.MustNewConstMetric(descriptors[workerCPUDesc],
			prometheus.GaugeValue, u.Usage.SysSeconds(), run, n, w, "sys")
		ch <- prometheus.MustNewConstMetric(descriptors[workerRealDesc],
			prometheus.GaugeValue, u.Usage.RealSeconds(), run, n, w)
	}
}

// WriteTextfile writes snap to path. The file is replaced atomically.
func WriteTextfile(path string, snap Snapshot) error {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(snap)); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
