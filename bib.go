package nat64

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// BIBEntry is a long-lived mapping between an IPv6 source transport
// address and an IPv4 transport address borrowed from a Pool4. Sessions
// is the ordered set of flows currently authorized under this binding;
// an empty Sessions list after the expiry manager runs to fixpoint
// means the BIB itself has been torn down (see BIBTable.removeSession).
type BIBEntry struct {
	Proto    Proto
	V6Src    Transport6
	V4Src    Transport4
	Sessions []*Session
}

type bibKey6 struct {
	addr IPv6
	port uint16
}

type bibKey4 struct {
	addr IPv4
	port uint16
}

// protoBIB is the dual-indexed table for one protocol: every BIBEntry is
// reachable both by its IPv6 owner and by its borrowed IPv4 address.
// Session-list mutations for any BIB in this protocol are also
// serialized on this lock, since the design note in §9 places session
// ownership strictly inside its BIB and a per-BIB lock would just be a
// finer shard of this one.
type protoBIB struct {
	mu        sync.RWMutex
	byRemote6 map[bibKey6]*BIBEntry
	byLocal4  map[bibKey4]*BIBEntry
}

func newProtoBIB() *protoBIB {
	return &protoBIB{
		byRemote6: make(map[bibKey6]*BIBEntry),
		byLocal4:  make(map[bibKey4]*BIBEntry),
	}
}

// BIBTable maintains the dual-indexed {IPv6 transport <-> IPv4 transport}
// mapping for each L4 protocol, backed by Pool4 for new allocations, and
// embeds each BIB's session list per spec — the Session Table component
// has no separate top-level type; it lives as BIBEntry.Sessions plus the
// methods below.
type BIBTable struct {
	tcp, udp, icmp *protoBIB

	pool   *Pool4
	expiry *ExpiryManager
	log    *logrus.Entry
}

// NewBIBTable builds a BIBTable that allocates from pool and enqueues
// new sessions into expiry.
func NewBIBTable(pool *Pool4, expiry *ExpiryManager) *BIBTable {
	return &BIBTable{
		tcp:    newProtoBIB(),
		udp:    newProtoBIB(),
		icmp:   newProtoBIB(),
		pool:   pool,
		expiry: expiry,
		log:    logrus.WithField("component", "bib"),
	}
}

func (t *BIBTable) indexFor(proto Proto) *protoBIB {
	switch proto {
	case ProtoTCP:
		return t.tcp
	case ProtoUDP:
		return t.udp
	case ProtoICMP:
		return t.icmp
	default:
		return nil
	}
}

// LookupV6 finds the BIB owned by v6.
func (t *BIBTable) LookupV6(proto Proto, v6 Transport6) (*BIBEntry, bool) {
	idx := t.indexFor(proto)
	if idx == nil {
		return nil, false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byRemote6[bibKey6{v6.Addr, v6.Port}]
	return e, ok
}

// LookupV4 finds the BIB that borrowed v4.
func (t *BIBTable) LookupV4(proto Proto, v4 Transport4) (*BIBEntry, bool) {
	idx := t.indexFor(proto)
	if idx == nil {
		return nil, false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byLocal4[bibKey4{v4.Addr, v4.Port}]
	return e, ok
}

// allocate borrows a v4 transport address for a new BIB from the same
// parity/range section as the port the IPv6 source used, per RFC 6146.
// It tries Pool4.GetSimilar against the first registered address before
// falling back to Pool4.GetAny across every address. Within the section
// the source port itself is not preferred.
func (t *BIBTable) allocate(proto Proto, v6Port uint16) (Transport4, error) {
	if hint, ok := t.pool.firstAddr(); ok {
		if v4, err := t.pool.GetSimilar(proto, Transport4{Addr: hint, Port: v6Port}); err == nil {
			return v4, nil
		}
	}
	return t.pool.GetAny(proto, v6Port)
}

// LookupOrCreateV6 returns the existing BIB for v6, or allocates a new
// one via Pool4 and inserts it into both indices. Returns
// ErrPoolExhausted if Pool4 has no candidate address/port left.
func (t *BIBTable) LookupOrCreateV6(proto Proto, v6 Transport6) (*BIBEntry, error) {
	idx := t.indexFor(proto)
	if idx == nil {
		return nil, ErrConfig
	}

	idx.mu.RLock()
	if e, ok := idx.byRemote6[bibKey6{v6.Addr, v6.Port}]; ok {
		idx.mu.RUnlock()
		return e, nil
	}
	idx.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.byRemote6[bibKey6{v6.Addr, v6.Port}]; ok {
		return e, nil
	}

	v4, err := t.allocate(proto, v6.Port)
	if err != nil {
		t.log.WithFields(logrus.Fields{"proto": proto, "v6src": v6.Addr}).Warn("pool4 exhausted, dropping new BIB request")
		return nil, ErrPoolExhausted
	}

	entry := &BIBEntry{Proto: proto, V6Src: v6, V4Src: v4}
	idx.byRemote6[bibKey6{v6.Addr, v6.Port}] = entry
	idx.byLocal4[bibKey4{v4.Addr, v4.Port}] = entry

	t.log.WithFields(logrus.Fields{
		"proto": proto, "v6src": v6.Addr, "v4src": v4.Addr, "port": v4.Port,
	}).Info("created BIB entry")
	return entry, nil
}

// EnsureSession returns the existing session on entry matching v4dst, or
// creates one, appends it to entry.Sessions, and enqueues it into
// expiry's class queue. Non-TCP sessions start (and stay) at
// StateEstablished; TCP sessions start at StateClosed and are driven by
// the FSM in tcpfsm.go.
func (t *BIBTable) EnsureSession(entry *BIBEntry, v6dst Transport6, v4dst Transport4, class SessionClass, now int64) (sess *Session, created bool) {
	idx := t.indexFor(entry.Proto)

	idx.mu.Lock()
	for _, s := range entry.Sessions {
		if s.V4Dst == v4dst {
			idx.mu.Unlock()
			return s, false
		}
	}

	s := &Session{bib: entry, V6Dst: v6dst, V4Dst: v4dst, State: StateClosed}
	if entry.Proto != ProtoTCP {
		s.State = StateEstablished
	}
	entry.Sessions = append(entry.Sessions, s)
	idx.mu.Unlock()

	t.expiry.enqueue(s, class, now)
	return s, true
}

// LookupSession finds the session on entry whose IPv4-peer transport
// matches peer, without creating one.
func (t *BIBTable) LookupSession(entry *BIBEntry, peer Transport4) (*Session, bool) {
	idx := t.indexFor(entry.Proto)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return entry.Lookup(peer)
}

// removeSession detaches sess from its owning BIB's session list. If
// that empties the BIB, the BIB is removed from both indices and its
// Pool4 port returned. Called only by ExpiryManager's sweep, after it
// has already released both sess.mu and its queue's lock — this takes
// only the BIB index lock, then (on the empty-BIB path) the pool4 lock,
// a fixed BIB -> pool order that never nests under a queue or session
// lock and so can't deadlock against StepV6/StepV4/Renew's sess.mu ->
// queue-lock order.
func (t *BIBTable) removeSession(entry *BIBEntry, sess *Session) {
	idx := t.indexFor(entry.Proto)

	idx.mu.Lock()
	for i, s := range entry.Sessions {
		if s == sess {
			entry.Sessions = append(entry.Sessions[:i], entry.Sessions[i+1:]...)
			break
		}
	}
	empty := len(entry.Sessions) == 0
	if empty {
		delete(idx.byRemote6, bibKey6{entry.V6Src.Addr, entry.V6Src.Port})
		delete(idx.byLocal4, bibKey4{entry.V4Src.Addr, entry.V4Src.Port})
	}
	idx.mu.Unlock()

	if empty {
		if err := t.pool.Return(entry.Proto, entry.V4Src); err != nil {
			t.log.WithError(err).Warn("failed to return pool4 port on BIB reclaim")
		}
		t.log.WithFields(logrus.Fields{
			"proto": entry.Proto, "v6src": entry.V6Src.Addr, "v4src": entry.V4Src.Addr,
		}).Info("reclaimed empty BIB entry")
	}
}
