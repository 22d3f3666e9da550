package craft

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/danmuck/satpctl/internal/protocol/satp"
	"github.com/danmuck/satpctl/internal/testutil/testlog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func TestBuildSegmentFrame(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder(nil)
	frame, err := b.Segment(DefaultOptions(), satp.Segment{Seq: 1, ID: 2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Ethernet may pad short frames up to 60 bytes.
	const off = 14 + 20 + 8
	if len(frame) < off+satp.SegmentLen || len(frame) > 60 {
		t.Fatalf("unexpected frame length: %d", len(frame))
	}
	if !bytes.Equal(frame[off:off+satp.SegmentLen], []byte{0, 0, 0, 1, 0, 2}) {
		t.Fatalf("unexpected segment bytes: %x", frame[off:off+satp.SegmentLen])
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		t.Fatalf("no udp layer: %v", pkt.Layers())
	}
	if udp.SrcPort != 4444 || udp.DstPort != 4444 || udp.Length != 14 {
		t.Fatalf("unexpected udp header: %+v", udp)
	}
	if udp.Checksum == 0 {
		t.Fatalf("expected computed checksum")
	}
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip.TTL != 64 || !ip.SrcIP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("unexpected ip header: %+v", ip)
	}
}

func TestBuildUDP(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder(nil)
	dgram, err := b.BuildUDP(4444, 5555, &satp.SATP{Segment: satp.Segment{Seq: 5}})
	if err != nil {
		t.Fatalf("build udp: %v", err)
	}
	want := []byte{0x11, 0x5c, 0x15, 0xb3, 0x00, 0x0e, 0x00, 0x00, 0, 0, 0, 5, 0, 0}
	if !bytes.Equal(dgram, want) {
		t.Fatalf("datagram mismatch: got=%x want=%x", dgram, want)
	}
}

func TestBuildRejectsBadAddress(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.DstIP = net.ParseIP("::1")
	_, err := NewBuilder(nil).Segment(opts, satp.Segment{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
