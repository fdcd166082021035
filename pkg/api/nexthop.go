package api

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidNextHop is returned for next-hops that cannot be installed.
var ErrInvalidNextHop = errors.New("invalid next-hop")

// maxLabel is the largest 20-bit MPLS label value.
const maxLabel = 1<<20 - 1

// InterfaceID identifies a local L3 interface.
type InterfaceID uint32

// NoInterface marks a next-hop that is not bound to an interface.
const NoInterface InterfaceID = 0

// NextHopKind classifies a next-hop.
type NextHopKind uint8

const (
	// KindIP is an address next-hop, possibly requiring recursive lookup.
	KindIP NextHopKind = iota
	// KindDrop discards matching traffic.
	KindDrop
	// KindToCPU punts matching traffic to the control plane.
	KindToCPU
)

func (k NextHopKind) String() string {
	switch k {
	case KindIP:
		return "IP"
	case KindDrop:
		return "DROP"
	case KindToCPU:
		return "TO_CPU"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(k)) + ")"
	}
}

// LabelActionType is the MPLS operation of a LabelForwardingAction.
type LabelActionType uint8

const (
	LabelPush LabelActionType = iota + 1
	LabelSwap
	LabelPHP
	LabelPop
	LabelNoop
)

func (t LabelActionType) String() string {
	switch t {
	case LabelPush:
		return "PUSH"
	case LabelSwap:
		return "SWAP"
	case LabelPHP:
		return "PHP"
	case LabelPop:
		return "POP"
	case LabelNoop:
		return "NOOP"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

// LabelForwardingAction is an MPLS action attached to a next-hop. Values are
// treated as immutable once attached.
type LabelForwardingAction struct {
	Type     LabelActionType
	SwapWith uint32
	// PushStack lists labels bottom of stack first.
	PushStack []uint32
}

// PushLabels returns a push action for the given stack, bottom label first.
func PushLabels(labels ...uint32) *LabelForwardingAction {
	return &LabelForwardingAction{Type: LabelPush, PushStack: slices.Clone(labels)}
}

// Validate checks label ranges and that the fields match the action type.
func (l *LabelForwardingAction) Validate() error {
	if l == nil {
		return nil
	}
	switch l.Type {
	case LabelPush:
		if len(l.PushStack) == 0 {
			return fmt.Errorf("%w: push with empty label stack", ErrInvalidNextHop)
		}
		for _, label := range l.PushStack {
			if label > maxLabel {
				return fmt.Errorf("%w: label %d out of range", ErrInvalidNextHop, label)
			}
		}
	case LabelSwap:
		if l.SwapWith > maxLabel {
			return fmt.Errorf("%w: label %d out of range", ErrInvalidNextHop, l.SwapWith)
		}
	case LabelPHP, LabelPop, LabelNoop:
	default:
		return fmt.Errorf("%w: unknown label action %s", ErrInvalidNextHop, l.Type)
	}
	return nil
}

func (l *LabelForwardingAction) String() string {
	if l == nil {
		return ""
	}
	switch l.Type {
	case LabelPush:
		parts := make([]string, len(l.PushStack))
		for i, label := range l.PushStack {
			parts[i] = strconv.FormatUint(uint64(label), 10)
		}
		return "PUSH[" + strings.Join(parts, "/") + "]"
	case LabelSwap:
		return "SWAP[" + strconv.FormatUint(uint64(l.SwapWith), 10) + "]"
	default:
		return l.Type.String()
	}
}

// Equal reports whether both actions are the same, treating nil as absent.
func (l *LabelForwardingAction) Equal(o *LabelForwardingAction) bool {
	return l.String() == o.String()
}

// CombineLabels composes the label action of a next-hop with the label
// action of the forwarding member it resolves through. The next-hop's own
// labels end up at the bottom of the stack.
func CombineLabels(nhop, via *LabelForwardingAction) (*LabelForwardingAction, error) {
	switch {
	case nhop == nil:
		return via, nil
	case via == nil:
		return nhop, nil
	case nhop.Type == LabelPush && via.Type == LabelPush:
		stack := make([]uint32, 0, len(nhop.PushStack)+len(via.PushStack))
		stack = append(stack, nhop.PushStack...)
		stack = append(stack, via.PushStack...)
		return &LabelForwardingAction{Type: LabelPush, PushStack: stack}, nil
	default:
		return nil, fmt.Errorf("cannot combine label action %s with %s", nhop, via)
	}
}

// NextHop is a single next-hop: an address (optionally bound to an interface
// and carrying an MPLS action) or one of the DROP / TO_CPU actions.
type NextHop struct {
	Kind      NextHopKind
	Addr      netip.Addr
	Interface InterfaceID
	Labels    *LabelForwardingAction
}

// IPNextHop returns an address next-hop that requires resolution.
func IPNextHop(addr netip.Addr) NextHop {
	return NextHop{Kind: KindIP, Addr: addr.Unmap()}
}

// DropNextHop returns the DROP action.
func DropNextHop() NextHop {
	return NextHop{Kind: KindDrop}
}

// ToCPUNextHop returns the TO_CPU action.
func ToCPUNextHop() NextHop {
	return NextHop{Kind: KindToCPU}
}

// WithInterface returns a copy bound to intf.
func (n NextHop) WithInterface(intf InterfaceID) NextHop {
	n.Interface = intf
	return n
}

// WithLabels returns a copy carrying the label action.
func (n NextHop) WithLabels(labels *LabelForwardingAction) NextHop {
	n.Labels = labels
	return n
}

// IsAction reports whether the next-hop is DROP or TO_CPU.
func (n NextHop) IsAction() bool {
	return n.Kind == KindDrop || n.Kind == KindToCPU
}

// IsResolved reports whether the next-hop is an address already bound to an
// interface.
func (n NextHop) IsResolved() bool {
	return n.Kind == KindIP && n.Interface != NoInterface
}

// NeedsResolve reports whether the next-hop requires a route lookup.
func (n NextHop) NeedsResolve() bool {
	return n.Kind == KindIP && n.Interface == NoInterface
}

// Validate rejects next-hops that cannot be installed.
func (n NextHop) Validate() error {
	switch n.Kind {
	case KindIP:
		if !n.Addr.IsValid() {
			return fmt.Errorf("%w: missing address", ErrInvalidNextHop)
		}
		if n.Addr.IsUnspecified() {
			return fmt.Errorf("%w: unspecified address %s", ErrInvalidNextHop, n.Addr)
		}
		return n.Labels.Validate()
	case KindDrop, KindToCPU:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidNextHop, n.Kind)
	}
}

// Compare orders next-hops by kind, address, interface and labels.
func (n NextHop) Compare(o NextHop) int {
	if c := cmp.Compare(n.Kind, o.Kind); c != 0 {
		return c
	}
	if c := n.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	if c := cmp.Compare(n.Interface, o.Interface); c != 0 {
		return c
	}
	return strings.Compare(n.Labels.String(), o.Labels.String())
}

// Key returns a string uniquely identifying the next-hop.
func (n NextHop) Key() string {
	return n.String()
}

func (n NextHop) String() string {
	if n.Kind != KindIP {
		return n.Kind.String()
	}
	var b strings.Builder
	b.WriteString(n.Addr.String())
	if n.Interface != NoInterface {
		b.WriteString("%")
		b.WriteString(strconv.FormatUint(uint64(n.Interface), 10))
	}
	if n.Labels != nil {
		b.WriteString(" ")
		b.WriteString(n.Labels.String())
	}
	return b.String()
}

// ParseNextHop parses the textual next-hop forms used by the config file and
// route files: "drop", "to_cpu", "addr", "addr%ifid" and "addr+l1/l2" where
// the labels after '+' are pushed bottom of stack first.
func ParseNextHop(s string) (NextHop, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "drop":
		return DropNextHop(), nil
	case "to_cpu", "tocpu", "cpu":
		return ToCPUNextHop(), nil
	}

	var labels *LabelForwardingAction
	if addr, stack, ok := strings.Cut(s, "+"); ok {
		var pushed []uint32
		for _, l := range strings.Split(stack, "/") {
			v, err := strconv.ParseUint(l, 10, 32)
			if err != nil {
				return NextHop{}, fmt.Errorf("%w: bad label %q in %q", ErrInvalidNextHop, l, s)
			}
			pushed = append(pushed, uint32(v))
		}
		labels = PushLabels(pushed...)
		s = addr
	}

	intf := NoInterface
	if addr, id, ok := strings.Cut(s, "%"); ok {
		v, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return NextHop{}, fmt.Errorf("%w: bad interface %q in %q", ErrInvalidNextHop, id, s)
		}
		intf = InterfaceID(v)
		s = addr
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return NextHop{}, fmt.Errorf("%w: %v", ErrInvalidNextHop, err)
	}
	nh := IPNextHop(addr).WithInterface(intf).WithLabels(labels)
	if err := nh.Validate(); err != nil {
		return NextHop{}, err
	}
	return nh, nil
}

// NextHopEntry is the ordered set of next-hops one client submits for a
// prefix. Duplicates are allowed and collapse during resolution.
type NextHopEntry []NextHop

// Validate checks the entry is non-empty and every next-hop is valid.
func (e NextHopEntry) Validate() error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty next-hop entry", ErrInvalidNextHop)
	}
	for _, nh := range e {
		if err := nh.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares entries element-wise.
func (e NextHopEntry) Equal(o NextHopEntry) bool {
	return slices.EqualFunc(e, o, func(a, b NextHop) bool { return a.Compare(b) == 0 })
}

func (e NextHopEntry) String() string {
	parts := make([]string, len(e))
	for i, nh := range e {
		parts[i] = nh.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// RouteNextHopSet is a flattened, de-duplicated set of forwarding members.
// Members are kept sorted so equal sets have equal representations.
type RouteNextHopSet []NextHop

// NewRouteNextHopSet canonicalizes nhs into a sorted set without duplicates.
func NewRouteNextHopSet(nhs ...NextHop) RouteNextHopSet {
	set := slices.Clone(nhs)
	slices.SortFunc(set, NextHop.Compare)
	return slices.CompactFunc(set, func(a, b NextHop) bool { return a.Compare(b) == 0 })
}

// Equal reports whether both sets hold the same members.
func (s RouteNextHopSet) Equal(o RouteNextHopSet) bool {
	return slices.EqualFunc(s, o, func(a, b NextHop) bool { return a.Compare(b) == 0 })
}

// Contains reports whether nh is a member of the set.
func (s RouteNextHopSet) Contains(nh NextHop) bool {
	_, found := slices.BinarySearchFunc(s, nh, NextHop.Compare)
	return found
}

// Key returns a string uniquely identifying the set.
func (s RouteNextHopSet) Key() string {
	return s.String()
}

func (s RouteNextHopSet) String() string {
	parts := make([]string, len(s))
	for i, nh := range s {
		parts[i] = nh.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ForwardAction is the outcome of resolving a route.
type ForwardAction uint8

const (
	ForwardUnresolved ForwardAction = iota
	ForwardDrop
	ForwardToCPU
	ForwardNextHops
)

func (a ForwardAction) String() string {
	switch a {
	case ForwardDrop:
		return "DROP"
	case ForwardToCPU:
		return "TO_CPU"
	case ForwardNextHops:
		return "NEXTHOPS"
	default:
		return "UNRESOLVED"
	}
}

// ForwardInfo is the resolved forwarding result of a route.
type ForwardInfo struct {
	Resolved bool
	NextHops RouteNextHopSet
}

// Action classifies the forwarding result.
func (f ForwardInfo) Action() ForwardAction {
	if !f.Resolved || len(f.NextHops) == 0 {
		return ForwardUnresolved
	}
	switch f.NextHops[0].Kind {
	case KindDrop:
		return ForwardDrop
	case KindToCPU:
		return ForwardToCPU
	default:
		return ForwardNextHops
	}
}

// Equal compares two forwarding results.
func (f ForwardInfo) Equal(o ForwardInfo) bool {
	return f.Resolved == o.Resolved && f.NextHops.Equal(o.NextHops)
}

func (f ForwardInfo) String() string {
	switch a := f.Action(); a {
	case ForwardNextHops:
		return f.NextHops.String()
	default:
		return a.String()
	}
}
