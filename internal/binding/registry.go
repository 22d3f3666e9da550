package binding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRule  = errors.New("binding: invalid rule")
	ErrInvalidLayer = errors.New("binding: invalid layer")
	ErrUnknownLayer = errors.New("binding: unknown layer")
)

// Rule binds a layer to a transport when both ports match.
type Rule struct {
	Transport gopacket.LayerType
	Layer     gopacket.LayerType
	SrcPort   uint16
	DstPort   uint16
}

// Matches reports whether transport and ports satisfy the rule. Source and
// destination must both match.
func (r Rule) Matches(transport gopacket.LayerType, src, dst uint16) bool {
	return r.Transport == transport && r.SrcPort == src && r.DstPort == dst
}

func (r Rule) String() string {
	return fmt.Sprintf("%s sport=%d dport=%d -> %s", r.Transport, r.SrcPort, r.DstPort, r.Layer)
}

// Registry holds binding rules in registration order.
type Registry struct {
	mu     sync.RWMutex
	rules  []Rule
	layers map[string]gopacket.LayerType
}

// NewRegistry creates an empty binding registry.
func NewRegistry() *Registry {
	return &Registry{layers: make(map[string]gopacket.LayerType)}
}

// ValidateRule checks transport and layer fields.
func ValidateRule(rule Rule) error {
	if rule.Transport != layers.LayerTypeUDP && rule.Transport != layers.LayerTypeTCP {
		return fmt.Errorf("%w: unsupported transport %s", ErrInvalidRule, rule.Transport)
	}
	if rule.Layer == gopacket.LayerTypeZero {
		return fmt.Errorf("%w: layer is required", ErrInvalidRule)
	}
	return nil
}

// Register appends rule. An identical rule already present is left as is.
func (r *Registry) Register(rule Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rules {
		if existing == rule {
			log.Debug().Str("rule", rule.String()).Msg("binding.Register duplicate ignored")
			return nil
		}
	}
	r.rules = append(r.rules, rule)
	log.Debug().Str("rule", rule.String()).Int("rules", len(r.rules)).Msg("binding.Register ok")
	return nil
}

// Lookup returns the first rule, in registration order, matching the
// transport and port pair.
func (r *Registry) Lookup(transport gopacket.LayerType, src, dst uint16) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Matches(transport, src, dst) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules returns the rules in registration order.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// RegisterLayer makes lt resolvable by name through LayerByName.
func (r *Registry) RegisterLayer(lt gopacket.LayerType) error {
	if lt == gopacket.LayerTypeZero {
		return ErrInvalidLayer
	}
	name := strings.ToLower(lt.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layers[name] = lt
	return nil
}

// LayerByName resolves a layer registered with RegisterLayer. Case-insensitive.
func (r *Registry) LayerByName(name string) (gopacket.LayerType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lt, ok := r.layers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return gopacket.LayerTypeZero, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return lt, nil
}

// LayerNames lists resolvable layer names in sorted order.
func (r *Registry) LayerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.layers))
	for _, lt := range r.layers {
		names = append(names, lt.String())
	}
	sort.Strings(names)
	return names
}

// ParseTransport maps "udp" and "tcp" to their layer types.
func ParseTransport(raw string) (gopacket.LayerType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "udp":
		return layers.LayerTypeUDP, nil
	case "tcp":
		return layers.LayerTypeTCP, nil
	default:
		return gopacket.LayerTypeZero, fmt.Errorf("%w: unsupported transport %q", ErrInvalidRule, raw)
	}
}
