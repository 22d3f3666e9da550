// Package shell is the interactive SATP console.
//
// Each line is one command; errors are printed and the loop continues.
// The shell only calls into the codec, the crafting builder and the
// dissection engine it is given.
package shell

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/danmuck/satpctl/internal/binding"
	"github.com/danmuck/satpctl/internal/craft"
	"github.com/danmuck/satpctl/internal/dissect"
	"github.com/danmuck/satpctl/internal/protocol/satp"
	"github.com/danmuck/satpctl/internal/protocol/schema"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog/log"
)

var (
	ErrUsage      = errors.New("shell: usage")
	ErrBadNumber  = errors.New("shell: non-numeric value")
	ErrBadHex     = errors.New("shell: invalid hex")
	ErrUnknownCmd = errors.New("shell: unknown command")
)

const DefaultPrompt = ">>> "

type Options struct {
	Banner string
	Prompt string
	Craft  craft.Options
}

type Shell struct {
	in      *bufio.Reader
	out     io.Writer
	engine  *dissect.Engine
	builder *craft.Builder
	opts    Options
}

func New(in io.Reader, out io.Writer, engine *dissect.Engine, builder *craft.Builder, opts Options) *Shell {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Shell{
		in:      bufio.NewReader(in),
		out:     out,
		engine:  engine,
		builder: builder,
		opts:    opts,
	}
}

// Run prints the banner and executes lines until exit, EOF or ctx is done.
// Cancellation is honored while waiting for input.
func (s *Shell) Run(ctx context.Context) error {
	if s.opts.Banner != "" {
		fmt.Fprintln(s.out, s.opts.Banner)
	}
	done := make(chan struct{})
	defer close(done)
	lines := s.readLines(done)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, s.opts.Prompt)
		var next lineResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return ctx.Err()
		case next = <-lines:
		}
		if next.err != nil && !errors.Is(next.err, io.EOF) {
			return next.err
		}
		if strings.TrimSpace(next.line) != "" {
			quit, execErr := s.Exec(next.line)
			if execErr != nil {
				fmt.Fprintf(s.out, "error: %v\n", execErr)
				log.Debug().Err(execErr).Str("line", strings.TrimSpace(next.line)).Msg("shell.Exec failed")
			}
			if quit {
				return nil
			}
		}
		if next.err != nil {
			fmt.Fprintln(s.out)
			return nil
		}
	}
}

type lineResult struct {
	line string
	err  error
}

// readLines feeds input lines to the returned channel until a read error or
// until done is closed. The final result carries the read error.
func (s *Shell) readLines(done <-chan struct{}) <-chan lineResult {
	out := make(chan lineResult)
	go func() {
		for {
			line, err := s.in.ReadString('\n')
			select {
			case out <- lineResult{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// Exec runs a single command line. quit is true for exit and quit.
func (s *Shell) Exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		s.printHelp()
		return false, nil
	case "encode":
		return false, s.encode(args)
	case "decode":
		return false, s.decode(args)
	case "craft":
		return false, s.craft(args)
	case "dissect":
		return false, s.dissect(args)
	case "bindings":
		s.bindings()
		return false, nil
	case "bind":
		return false, s.bind(args)
	default:
		return false, fmt.Errorf("%w: %s (try help)", ErrUnknownCmd, cmd)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `commands:
  encode [seq=N] [id=N]                    print the 6-byte SATP encoding
  decode HEX                               decode a SATP segment
  craft [sport=N] [dport=N] [seq=N] [id=N] print an Ethernet/IPv4/UDP/SATP frame
  dissect [eth|ip|udp] HEX                 run the dissection engine on a packet
  bindings                                 list binding rules
  bind udp|tcp SPORT DPORT [LAYER]         add a binding rule (layer defaults to SATP)
  exit | quit
`)
}

func (s *Shell) encode(args []string) error {
	values, _, err := parseAssignments(args, nil)
	if err != nil {
		return err
	}
	b, err := satp.EncodeValues(values)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, hex.EncodeToString(b))
	return nil
}

func (s *Shell) decode(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: decode HEX", ErrUsage)
	}
	data, err := ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	seg, err := satp.DecodeSegment(data)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, seg.String())
	if len(data) > satp.SegmentLen {
		fmt.Fprintf(s.out, "payload %s\n", hex.EncodeToString(data[satp.SegmentLen:]))
	}
	return nil
}

func (s *Shell) craft(args []string) error {
	opts := s.opts.Craft
	values, ports, err := parseAssignments(args, []string{"sport", "dport"})
	if err != nil {
		return err
	}
	if v, ok := ports["sport"]; ok {
		opts.SrcPort = v
	}
	if v, ok := ports["dport"]; ok {
		opts.DstPort = v
	}
	seg, err := satp.SegmentFromValues(values)
	if err != nil {
		return err
	}
	frame, err := s.builder.Segment(opts, seg)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, hex.EncodeToString(frame))
	return nil
}

func (s *Shell) dissect(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: dissect [eth|ip|udp] HEX", ErrUsage)
	}
	var first gopacket.Decoder = layers.LayerTypeEthernet
	switch strings.ToLower(args[0]) {
	case "eth":
		args = args[1:]
	case "ip":
		first, args = layers.LayerTypeIPv4, args[1:]
	case "udp":
		first, args = layers.LayerTypeUDP, args[1:]
	}
	data, err := ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	res, err := s.engine.Decode(data, first)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(res.Packet.Layers()))
	for _, l := range res.Packet.Layers() {
		names = append(names, l.LayerType().String())
	}
	fmt.Fprintf(s.out, "%s sport=%d dport=%d layers=%s\n",
		res.Transport, res.SrcPort, res.DstPort, strings.Join(names, "/"))
	if !res.Bound() {
		fmt.Fprintf(s.out, "unbound payload %s\n", hex.EncodeToString(res.Payload))
		return nil
	}
	if l, ok := res.Layer.(*satp.SATP); ok {
		fmt.Fprintln(s.out, l.Segment.String())
		return nil
	}
	fmt.Fprintln(s.out, gopacket.LayerString(res.Layer))
	return nil
}

func (s *Shell) bindings() {
	rules := s.engine.Registry().Rules()
	if len(rules) == 0 {
		fmt.Fprintln(s.out, "no bindings")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(s.out, "%d. %s\n", i+1, r)
	}
}

func (s *Shell) bind(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("%w: bind udp|tcp SPORT DPORT [LAYER]", ErrUsage)
	}
	reg := s.engine.Registry()
	transport, err := binding.ParseTransport(args[0])
	if err != nil {
		return err
	}
	sport, err := parsePort(args[1])
	if err != nil {
		return err
	}
	dport, err := parsePort(args[2])
	if err != nil {
		return err
	}
	layer := satp.LayerTypeSATP
	if len(args) == 4 {
		if layer, err = reg.LayerByName(args[3]); err != nil {
			return err
		}
	}
	rule := binding.Rule{Transport: transport, Layer: layer, SrcPort: sport, DstPort: dport}
	if err := reg.Register(rule); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "bound %s\n", rule)
	return nil
}

// parseAssignments splits key=value args into SATP field values and the
// named extra keys, which must fit in 16 bits.
func parseAssignments(args []string, extra []string) (schema.Values, map[string]uint16, error) {
	values := schema.Values{}
	ports := map[string]uint16{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("%w: expected key=value, got %q", ErrUsage, arg)
		}
		key = strings.ToLower(key)
		if slices.Contains(extra, key) {
			p, err := parsePort(raw)
			if err != nil {
				return nil, nil, err
			}
			ports[key] = p
			continue
		}
		v, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s=%q", ErrBadNumber, key, raw)
		}
		values[key] = v
	}
	return values, ports, nil
}

func parsePort(raw string) (uint16, error) {
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q", ErrBadNumber, raw)
	}
	return uint16(v), nil
}

// ParseHex decodes hex that may be split by colons or spaces and may carry
// 0x prefixes.
func ParseHex(raw string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", " ", "", "0x", "").Replace(raw)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHex, err)
	}
	return b, nil
}
