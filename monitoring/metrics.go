package monitoring

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// DefaultLatencyBuckets covers single-row inference, from sub-millisecond
// tree lookups up to slow sampling explanations.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metric is one exported series.
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Help   string            `json:"help,omitempty"`
}

type series struct {
	labels map[string]string
	value  float64
	// histogram state
	buckets []float64
	counts  []uint64
	count   uint64
	sum     float64
}

type family struct {
	kind   MetricType
	help   string
	series map[string]*series
}

// Metrics 指标收集器
type Metrics struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		families:  make(map[string]*family),
		startTime: time.Now(),
	}
}

// Describe sets the help text shown for a metric family.
func (m *Metrics) Describe(name string, kind MetricType, help string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.family(name, kind)
	f.help = help
}

// IncrCounter 增加计数器
func (m *Metrics) IncrCounter(name string, value float64, labels map[string]string) {
	if m == nil || value < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.family(name, MetricTypeCounter).get(labels).value += value
}

// SetGauge 设置仪表
func (m *Metrics) SetGauge(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.family(name, MetricTypeGauge).get(labels).value = value
}

// ObserveHistogram records one value into cumulative buckets. The buckets
// of the first observation of a series are kept for its lifetime.
func (m *Metrics) ObserveHistogram(name string, value float64, labels map[string]string, buckets []float64) {
	if m == nil || math.IsNaN(value) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.family(name, MetricTypeHistogram).get(labels)
	if s.buckets == nil {
		if len(buckets) == 0 {
			buckets = DefaultLatencyBuckets
		}
		s.buckets = append([]float64(nil), buckets...)
		sort.Float64s(s.buckets)
		s.counts = make([]uint64, len(s.buckets))
	}
	for i, upper := range s.buckets {
		if value <= upper {
			s.counts[i]++
		}
	}
	s.count++
	s.sum += value
}

// Snapshot returns the current counter and gauge values, and the
// observation count of every histogram.
func (m *Metrics) Snapshot() []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Metric
	for _, name := range m.names() {
		f := m.families[name]
		for _, key := range sortedKeys(f.series) {
			s := f.series[key]
			value := s.value
			if f.kind == MetricTypeHistogram {
				value = float64(s.count)
			}
			out = append(out, Metric{Name: name, Type: f.kind, Value: value, Labels: copyLabels(s.labels), Help: f.help})
		}
	}
	return out
}

// Value reads one counter or gauge series. Missing series read as zero.
func (m *Metrics) Value(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[name]
	if !ok {
		return 0
	}
	if s, ok := f.series[labelKey(labels)]; ok {
		if f.kind == MetricTypeHistogram {
			return float64(s.count)
		}
		return s.value
	}
	return 0
}

// ExportPrometheus 导出Prometheus格式
func (m *Metrics) ExportPrometheus(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, name := range m.names() {
		f := m.families[name]
		help := f.help
		if help == "" {
			help = fmt.Sprintf("Metric %s", name)
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)
		for _, key := range sortedKeys(f.series) {
			s := f.series[key]
			if f.kind != MetricTypeHistogram {
				fmt.Fprintf(&b, "%s%s %s\n", name, formatLabels(s.labels, "", ""), formatValue(s.value))
				continue
			}
			for i, upper := range s.buckets {
				fmt.Fprintf(&b, "%s_bucket%s %d\n", name, formatLabels(s.labels, "le", formatValue(upper)), s.counts[i])
			}
			fmt.Fprintf(&b, "%s_bucket%s %d\n", name, formatLabels(s.labels, "le", "+Inf"), s.count)
			fmt.Fprintf(&b, "%s_sum%s %s\n", name, formatLabels(s.labels, "", ""), formatValue(s.sum))
			fmt.Fprintf(&b, "%s_count%s %d\n", name, formatLabels(s.labels, "", ""), s.count)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// GetUptime 获取运行时间
func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// CollectRuntime refreshes the process gauges.
func (m *Metrics) CollectRuntime() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.SetGauge("process_uptime_seconds", m.GetUptime().Seconds(), nil)
	m.SetGauge("go_goroutines", float64(runtime.NumGoroutine()), nil)
	m.SetGauge("go_memstats_heap_alloc_bytes", float64(stats.HeapAlloc), nil)
	m.SetGauge("go_gc_count", float64(stats.NumGC), nil)
}

func (m *Metrics) family(name string, kind MetricType) *family {
	f, ok := m.families[name]
	if !ok {
		f = &family{kind: kind, series: make(map[string]*series)}
		m.families[name] = f
	}
	return f
}

func (m *Metrics) names() []string {
	names := make([]string, 0, len(m.families))
	for name := range m.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *family) get(labels map[string]string) *series {
	key := labelKey(labels)
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: copyLabels(labels)}
		f.series[key] = s
	}
	return s
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(0)
		b.WriteString(labels[k])
		b.WriteByte(0)
	}
	return b.String()
}

func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	if extraKey != "" {
		parts = append(parts, fmt.Sprintf("%s=%q", extraKey, extraValue))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]*series) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
