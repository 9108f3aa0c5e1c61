// Package metrics holds the Prometheus counters for the pack pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nucpack"

// Pipeline counts work done by pack, unpack and load. A nil *Pipeline is
// valid and records nothing.
type Pipeline struct {
	registry *prometheus.Registry

	ReadsPacked   prometheus.Counter
	BasesPacked   prometheus.Counter
	ReadsSkipped  prometheus.Counter
	ReadsUnpacked prometheus.Counter
	Blocks        *prometheus.CounterVec
}

// New creates a Pipeline registered on its own registry.
func New() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		ReadsPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_packed_total",
			Help:      "Reads encoded into packed form.",
		}),
		BasesPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bases_packed_total",
			Help:      "Bases encoded into packed form.",
		}),
		ReadsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_skipped_total",
			Help:      "Reads dropped because their sequence had a non-ACGT base.",
		}),
		ReadsUnpacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_unpacked_total",
			Help:      "Reads decoded from a container.",
		}),
		Blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Container blocks processed, by direction.",
		}, []string{"direction"}),
	}
	p.registry.MustRegister(p.ReadsPacked, p.BasesPacked, p.ReadsSkipped, p.ReadsUnpacked, p.Blocks)
	return p
}

// Registry returns the registry holding the pipeline's collectors.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}

// PackedRead records one packed read of n bases.
func (p *Pipeline) PackedRead(n int) {
	if p == nil {
		return
	}
	p.ReadsPacked.Inc()
	p.BasesPacked.Add(float64(n))
}

// SkippedRead records a read dropped for an invalid alphabet.
func (p *Pipeline) SkippedRead() {
	if p == nil {
		return
	}
	p.ReadsSkipped.Inc()
}

// UnpackedReads records n reads decoded from a block.
func (p *Pipeline) UnpackedReads(n int) {
	if p == nil {
		return
	}
	p.ReadsUnpacked.Add(float64(n))
}

// BlockWritten records one block written to a container.
func (p *Pipeline) BlockWritten() {
	if p == nil {
		return
	}
	p.Blocks.WithLabelValues("write").Inc()
}

// BlockRead records one block read from a container.
func (p *Pipeline) BlockRead() {
	if p == nil {
		return
	}
	p.Blocks.WithLabelValues("read").Inc()
}

// WriteTextfile writes the current values in the node exporter textfile
// format.
func (p *Pipeline) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}
