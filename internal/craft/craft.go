package craft

import (
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/satpctl/internal/observability"
	"github.com/danmuck/satpctl/internal/protocol/satp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var ErrInvalidAddress = errors.New("craft: invalid address")

// Options describes the headers placed under a crafted layer.
type Options struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	TTL     uint8
}

// DefaultOptions targets loopback on the SATP port pair.
func DefaultOptions() Options {
	return Options{
		SrcMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		SrcIP:   net.IPv4(127, 0, 0, 1),
		DstIP:   net.IPv4(127, 0, 0, 1),
		SrcPort: satp.Port,
		DstPort: satp.Port,
		TTL:     64,
	}
}

// Builder serializes layers and counts what it builds.
type Builder struct {
	metrics *observability.Metrics
}

func NewBuilder(m *observability.Metrics) *Builder {
	return &Builder{metrics: m}
}

// Build returns an Ethernet/IPv4/UDP frame carrying layer, with lengths and
// checksums filled in.
func (b *Builder) Build(opts Options, layer gopacket.SerializableLayer) ([]byte, error) {
	src := opts.SrcIP.To4()
	dst := opts.DstIP.To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("%w: src=%v dst=%v", ErrInvalidAddress, opts.SrcIP, opts.DstIP)
	}
	if len(opts.SrcMAC) != 6 || len(opts.DstMAC) != 6 {
		return nil, fmt.Errorf("%w: src_mac=%v dst_mac=%v", ErrInvalidAddress, opts.SrcMAC, opts.DstMAC)
	}

	eth := &layers.Ethernet{
		SrcMAC:       opts.SrcMAC,
		DstMAC:       opts.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      opts.TTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(opts.SrcPort),
		DstPort: layers.UDPPort(opts.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	serOpts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, serOpts, eth, ip, udp, layer); err != nil {
		return nil, fmt.Errorf("craft: serialize: %w", err)
	}
	b.metrics.RecordCraft(layer.LayerType().String())
	return buf.Bytes(), nil
}

// BuildUDP returns a bare UDP datagram carrying layer. The checksum is left
// zero since there is no network header to compute it over.
func (b *Builder) BuildUDP(srcPort, dstPort uint16, layer gopacket.SerializableLayer) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, udp, layer); err != nil {
		return nil, fmt.Errorf("craft: serialize: %w", err)
	}
	b.metrics.RecordCraft(layer.LayerType().String())
	return buf.Bytes(), nil
}

// Segment is Build for a SATP segment.
func (b *Builder) Segment(opts Options, seg satp.Segment) ([]byte, error) {
	return b.Build(opts, &satp.SATP{Segment: seg})
}
