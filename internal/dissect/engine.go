// Package dissect decodes captured or crafted frames with gopacket and applies
// binding rules to transport payloads.
//
// Ownership boundary:
// - lower layer decode (delegated to gopacket)
// - registry lookup on transport ports
// - decode of the bound layer, or opaque payload when nothing binds
package dissect

import (
	"errors"
	"fmt"

	"github.com/danmuck/satpctl/internal/binding"
	"github.com/danmuck/satpctl/internal/observability"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoTransport = errors.New("dissect: no transport layer")
	ErrDecode      = errors.New("dissect: decode failed")
)

// Result is one dissected packet.
type Result struct {
	Packet    gopacket.Packet
	Transport gopacket.LayerType
	SrcPort   uint16
	DstPort   uint16
	// Rule is the binding that matched, nil when the payload stayed opaque.
	Rule *binding.Rule
	// Layer is the decoded bound layer, nil when unbound.
	Layer gopacket.Layer
	// Payload is the raw transport payload.
	Payload []byte
}

func (r *Result) Bound() bool { return r.Rule != nil && r.Layer != nil }

type Option func(*Engine)

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine dissects packets against a caller-supplied registry.
type Engine struct {
	registry *binding.Registry
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewEngine(reg *binding.Registry, opts ...Option) *Engine {
	e := &Engine{registry: reg, logger: log.Logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *binding.Registry { return e.registry }

// Decode decodes data starting at first (a LayerType or LinkType), then
// decodes the UDP or TCP payload as the bound layer when a rule matches.
func (e *Engine) Decode(data []byte, first gopacket.Decoder) (*Result, error) {
	pkt := gopacket.NewPacket(data, first, gopacket.Default)

	res := &Result{Packet: pkt}
	switch {
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		res.Transport = layers.LayerTypeUDP
		res.SrcPort = uint16(udp.SrcPort)
		res.DstPort = uint16(udp.DstPort)
		res.Payload = udp.LayerPayload()
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		res.Transport = layers.LayerTypeTCP
		res.SrcPort = uint16(tcp.SrcPort)
		res.DstPort = uint16(tcp.DstPort)
		res.Payload = tcp.LayerPayload()
	default:
		if el := pkt.ErrorLayer(); el != nil {
			e.metrics.RecordDissect("", observability.ResultError)
			e.logger.Debug().Err(el.Error()).Msg("dissect.Decode lower layer failed")
			return res, fmt.Errorf("%w: %w", ErrDecode, el.Error())
		}
		e.metrics.RecordDissect("", observability.ResultError)
		return res, ErrNoTransport
	}

	rule, ok := e.registry.Lookup(res.Transport, res.SrcPort, res.DstPort)
	if !ok {
		e.metrics.RecordDissect("", observability.ResultUnbound)
		e.logger.Debug().
			Str("transport", res.Transport.String()).
			Uint16("sport", res.SrcPort).
			Uint16("dport", res.DstPort).
			Int("payload", len(res.Payload)).
			Msg("dissect.Decode unbound")
		return res, nil
	}
	res.Rule = &rule

	inner := gopacket.NewPacket(res.Payload, rule.Layer, gopacket.Default)
	if el := inner.ErrorLayer(); el != nil {
		e.metrics.RecordDissect(rule.Layer.String(), observability.ResultError)
		e.logger.Debug().
			Err(el.Error()).
			Str("layer", rule.Layer.String()).
			Int("payload", len(res.Payload)).
			Msg("dissect.Decode bound layer failed")
		return res, fmt.Errorf("%w: %s: %w", ErrDecode, rule.Layer, el.Error())
	}
	res.Layer = inner.Layer(rule.Layer)
	e.metrics.RecordDissect(rule.Layer.String(), observability.ResultBound)
	e.logger.Debug().
		Str("layer", rule.Layer.String()).
		Uint16("sport", res.SrcPort).
		Uint16("dport", res.DstPort).
		Msg("dissect.Decode bound")
	return res, nil
}
