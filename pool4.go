package nat64

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
)

// section is one of the four (parity, privileged-range) port buckets on a
// pooled IPv4 address: odd-low, even-low, odd-high, even-high. Ports are
// handed out from a monotonic cursor first and, once returned, recycled
// FIFO so a freshly-returned port sits quiet the longest before reuse.
type section struct {
	nextPort  uint32
	maxPort   uint32
	freePorts *list.List
}

func newSection(next, max uint32) *section {
	return &section{nextPort: next, maxPort: max, freePorts: list.New()}
}

func (s *section) extractAny() (uint16, bool) {
	if front := s.freePorts.Front(); front != nil {
		s.freePorts.Remove(front)
		return front.Value.(uint16), true
	}
	if s.nextPort > s.maxPort {
		return 0, false
	}
	port := uint16(s.nextPort)
	s.nextPort += 2
	return port, true
}

func (s *section) release(port uint16) {
	s.freePorts.PushBack(port)
}

// poolNode is one registered IPv4 address and its four port sections,
// for a single protocol's pool.
type poolNode struct {
	addr                                IPv4
	oddLow, evenLow, oddHigh, evenHigh *section
}

func newPoolNode(addr IPv4) *poolNode {
	return &poolNode{
		addr:     addr,
		oddLow:   newSection(1, 1023),
		evenLow:  newSection(0, 1022),
		oddHigh:  newSection(1025, 65535),
		evenHigh: newSection(1024, 65534),
	}
}

// section picks the bucket matching port's parity and privileged-range
// membership, per RFC 6146's parity/range preservation requirement.
func (n *poolNode) section(port uint16) *section {
	low := port < 1024
	even := port%2 == 0
	switch {
	case low && even:
		return n.evenLow
	case low && !even:
		return n.oddLow
	case !low && even:
		return n.evenHigh
	default:
		return n.oddHigh
	}
}

// protoPool is the per-protocol list of registered addresses, guarded by
// its own lock so allocation on one protocol never contends with another.
type protoPool struct {
	mu    sync.Mutex
	nodes []*poolNode
}

func (p *protoPool) find(addr IPv4) *poolNode {
	for _, n := range p.nodes {
		if n.addr.Equal(addr) {
			return n
		}
	}
	return nil
}

// Pool4 owns the set of usable IPv4 transport addresses, one independent
// pool per L4 protocol, and hands out (address, port) pairs to new BIB
// entries honoring RFC 6146 port-parity/range preservation. Allocation
// exhaustion is non-fatal: callers translate ErrPoolExhausted into a
// dropped packet. No count of such drops is kept.
type Pool4 struct {
	tcp, udp, icmp protoPool
	log            *logrus.Entry
}

// NewPool4 returns an empty Pool4 ready for Register calls.
func NewPool4() *Pool4 {
	return &Pool4{log: logrus.WithField("component", "pool4")}
}

func (p4 *Pool4) poolFor(proto Proto) *protoPool {
	switch proto {
	case ProtoTCP:
		return &p4.tcp
	case ProtoUDP:
		return &p4.udp
	case ProtoICMP:
		return &p4.icmp
	default:
		return nil
	}
}

func (p4 *Pool4) allPools() [3]*protoPool {
	return [3]*protoPool{&p4.tcp, &p4.udp, &p4.icmp}
}

// Register adds addr to all three per-protocol pools, each with its own
// four freshly-initialized sections. Returns ErrAlreadyExists if addr is
// already present in any of the three pools. All three locks are held
// for the whole check-then-append, always in the same tcp/udp/icmp
// order, so two concurrent Register calls for the same address can't
// both pass the presence check before either appends — the second
// caller blocks on the first pool's lock until the first call has
// finished appending everywhere, and then sees addr already present.
func (p4 *Pool4) Register(addr IPv4) error {
	pools := p4.allPools()

	for _, pool := range pools {
		pool.mu.Lock()
	}
	defer func() {
		for _, pool := range pools {
			pool.mu.Unlock()
		}
	}()

	for _, pool := range pools {
		if pool.find(addr) != nil {
			return ErrAlreadyExists
		}
	}
	for _, pool := range pools {
		pool.nodes = append(pool.nodes, newPoolNode(addr))
	}

	p4.log.WithField("addr", addr).Info("registered pool4 address")
	return nil
}

// Remove removes addr from all three pools. Reports ErrNotFound only if
// addr is absent from all three; ErrInconsistent if present in a strict
// subset (a bug elsewhere left the pools out of sync).
func (p4 *Pool4) Remove(addr IPv4) error {
	pools := p4.allPools()
	deleted := 0

	for _, pool := range pools {
		pool.mu.Lock()
		for i, n := range pool.nodes {
			if n.addr.Equal(addr) {
				pool.nodes = append(pool.nodes[:i], pool.nodes[i+1:]...)
				deleted++
				break
			}
		}
		pool.mu.Unlock()
	}

	switch deleted {
	case 0:
		return ErrNotFound
	case len(pools):
		p4.log.WithField("addr", addr).Info("removed pool4 address")
		return nil
	default:
		p4.log.WithFields(logrus.Fields{"addr": addr, "tables": deleted}).Error("pool4 address present in a strict subset of protocol pools")
		return ErrInconsistent
	}
}

// GetSimilar returns a free port in the same section as hint.Port, on
// hint.Addr specifically, if that address is registered and its matching
// section has capacity: the oldest returned port if the section has one,
// otherwise its next never-used port. hint.Port itself is not preferred
// over the section's other free ports. BIBTable.allocate calls this
// first, so a new binding keeps the IPv6 source port's parity and
// privileged-range membership.
func (p4 *Pool4) GetSimilar(proto Proto, hint Transport4) (Transport4, error) {
	pool := p4.poolFor(proto)
	if pool == nil {
		return Transport4{}, ErrConfig
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	node := pool.find(hint.Addr)
	if node == nil {
		return Transport4{}, ErrNotFound
	}

	port, ok := node.section(hint.Port).extractAny()
	if !ok {
		return Transport4{}, ErrPoolExhausted
	}
	return Transport4{Addr: hint.Addr, Port: port}, nil
}

// GetAny returns a free port in the section matching hintPort on any
// registered address, trying each in registration order. Used as the
// fallback when the exact hinted address has no capacity left.
func (p4 *Pool4) GetAny(proto Proto, hintPort uint16) (Transport4, error) {
	pool := p4.poolFor(proto)
	if pool == nil {
		return Transport4{}, ErrConfig
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if len(pool.nodes) == 0 {
		return Transport4{}, ErrPoolExhausted
	}

	for _, node := range pool.nodes {
		if port, ok := node.section(hintPort).extractAny(); ok {
			return Transport4{Addr: node.addr, Port: port}, nil
		}
	}
	return Transport4{}, ErrPoolExhausted
}

// Return pushes addr4's port onto its owning section's free list. An
// address that isn't registered is logged and ignored, matching the
// original's "well, I guess we won't be seeing that port again" policy.
func (p4 *Pool4) Return(proto Proto, addr4 Transport4) error {
	pool := p4.poolFor(proto)
	if pool == nil {
		return ErrConfig
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	node := pool.find(addr4.Addr)
	if node == nil {
		p4.log.WithField("addr", addr4.Addr).Warn("returned port for unregistered pool4 address, ignoring")
		return nil
	}
	node.section(addr4.Port).release(addr4.Port)
	return nil
}

// firstAddr returns the first registered address, in registration
// order, for use as BIBTable.allocate's initial GetSimilar hint.
// Registration adds an address to all three protocol pools identically,
// so the udp pool's order is representative of the others.
func (p4 *Pool4) firstAddr() (IPv4, bool) {
	p4.udp.mu.Lock()
	defer p4.udp.mu.Unlock()
	if len(p4.udp.nodes) == 0 {
		return IPv4{}, false
	}
	return p4.udp.nodes[0].addr, true
}

// Contains reports whether addr is registered in the pool. Registration
// is symmetric across protocols, so any one pool is representative.
func (p4 *Pool4) Contains(addr IPv4) bool {
	p4.udp.mu.Lock()
	defer p4.udp.mu.Unlock()
	return p4.udp.find(addr) != nil
}

// ToArray enumerates every registered address.
func (p4 *Pool4) ToArray() []IPv4 {
	p4.udp.mu.Lock()
	defer p4.udp.mu.Unlock()

	out := make([]IPv4, len(p4.udp.nodes))
	for i, n := range p4.udp.nodes {
		out[i] = n.addr
	}
	return out
}
