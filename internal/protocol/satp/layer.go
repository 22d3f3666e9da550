package satp

import (
	"github.com/danmuck/satpctl/internal/binding"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeSATP is the gopacket layer type for SATP segments.
var LayerTypeSATP = gopacket.RegisterLayerType(
	4444,
	gopacket.LayerTypeMetadata{
		Name:    "SATP",
		Decoder: gopacket.DecodeFunc(decodeSATP),
	},
)

// SATP is the gopacket layer form of a Segment. Bytes after the segment are
// left as the layer payload.
type SATP struct {
	layers.BaseLayer
	Segment
}

func (s *SATP) LayerType() gopacket.LayerType { return LayerTypeSATP }

func (s *SATP) CanDecode() gopacket.LayerClass { return LayerTypeSATP }

func (s *SATP) NextLayerType() gopacket.LayerType {
	if len(s.BaseLayer.Payload) == 0 {
		return gopacket.LayerTypeZero
	}
	return gopacket.LayerTypePayload
}

func (s *SATP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	seg, err := DecodeSegment(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	s.Segment = seg
	s.BaseLayer = layers.BaseLayer{Contents: data[:SegmentLen], Payload: data[SegmentLen:]}
	return nil
}

func (s *SATP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(SegmentLen)
	if err != nil {
		return err
	}
	s.Segment.put(buf)
	return nil
}

func decodeSATP(data []byte, p gopacket.PacketBuilder) error {
	s := &SATP{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	return p.NextDecoder(gopacket.LayerTypePayload)
}

// Rule is the SATP binding: UDP with sport and dport both equal to Port.
func Rule() binding.Rule {
	return binding.Rule{
		Transport: layers.LayerTypeUDP,
		Layer:     LayerTypeSATP,
		SrcPort:   Port,
		DstPort:   Port,
	}
}

// Bind registers the SATP layer and its UDP binding on reg.
func Bind(reg *binding.Registry) error {
	if err := reg.RegisterLayer(LayerTypeSATP); err != nil {
		return err
	}
	return reg.Register(Rule())
}
