package observability

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Dissection outcomes.
const (
	ResultBound   = "bound"
	ResultUnbound = "unbound"
	ResultError   = "error"
)

// Metrics counts dissection and crafting activity.
type Metrics struct {
	dissected *prometheus.CounterVec
	crafted   *prometheus.CounterVec
	captured  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dissected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "satp",
				Subsystem: "dissect",
				Name:      "packets_total",
				Help:      "Packets run through the dissection engine.",
			},
			[]string{"layer", "result"},
		),
		crafted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "satp",
				Subsystem: "craft",
				Name:      "packets_total",
				Help:      "Packets serialized by the crafting path.",
			},
			[]string{"layer"},
		),
		captured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "satp",
				Subsystem: "capture",
				Name:      "records_total",
				Help:      "pcap records read or written.",
			},
			[]string{"direction"},
		),
	}
	for _, c := range []prometheus.Collector{m.dissected, m.crafted, m.captured} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordDissect counts one decode outcome. Nil receivers are no-ops.
func (m *Metrics) RecordDissect(layer, result string) {
	if m == nil {
		return
	}
	if layer == "" {
		layer = "none"
	}
	m.dissected.WithLabelValues(layer, result).Inc()
}

func (m *Metrics) RecordCraft(layer string) {
	if m == nil {
		return
	}
	m.crafted.WithLabelValues(layer).Inc()
}

// RecordCapture counts pcap records; direction is "read" or "write".
func (m *Metrics) RecordCapture(direction string) {
	if m == nil {
		return
	}
	m.captured.WithLabelValues(direction).Inc()
}

// WriteText dumps every family in g in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
