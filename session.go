package nat64

import "sync"

// TCPState is the connection-state FSM the TCP state machine (see
// tcpfsm.go) drives. Non-TCP sessions never leave StateEstablished.
type TCPState int

const (
	StateClosed TCPState = iota
	StateV6SynRcv
	StateV4SynRcv
	StateEstablished
	StateTrans // a.k.a. FOUR_MIN in the original source
	StateV6FinRcv
	StateV4FinRcv
	StateV6FinV4Fin
)

func (s TCPState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateV6SynRcv:
		return "V6_SYN_RCV"
	case StateV4SynRcv:
		return "V4_SYN_RCV"
	case StateEstablished:
		return "ESTABLISHED"
	case StateTrans:
		return "TRANS"
	case StateV6FinRcv:
		return "V6_FIN_RCV"
	case StateV4FinRcv:
		return "V4_FIN_RCV"
	case StateV6FinV4Fin:
		return "V6_FIN_V4_FIN"
	default:
		return "UNKNOWN"
	}
}

// Session is a 5-tuple flow entry authorizing return traffic for one
// remote peer of a BIB entry. Its existence is a strict subset of its
// owning BIB's: it is created after the BIB, and destroying it may
// cascade into destroying the BIB (see BIBTable.removeSession).
type Session struct {
	bib *BIBEntry

	V6Dst Transport6 // the original embedded IPv6 remote (Y' in RFC 6146 notation)
	V4Dst Transport4 // the IPv4 peer, extracted from V6Dst

	// mu serializes every read and write of State, Class, Deadline and
	// queueElem below. Two packets of the same flow can arrive on
	// different ingress goroutines; this is what makes their state
	// transitions observed in ingress order, per the TCP FSM's and the
	// expiry manager's contract. Held only around a single FSM step or
	// a single renew/sweep decision, never across a call into another
	// session's lock.
	mu sync.Mutex

	State    TCPState
	Class    SessionClass
	Deadline int64 // absolute monotonic seconds

	queueElem queueElement // this session's node within its expiry queue
}

// V6Src and V4Src are inherited from the owning BIB entry rather than
// duplicated on every session.
func (s *Session) V6Src() Transport6 { return s.bib.V6Src }
func (s *Session) V4Src() Transport4 { return s.bib.V4Src }

// BIB returns the owning BIB entry.
func (s *Session) BIB() *BIBEntry { return s.bib }

// Lookup finds the session in bib whose IPv4-peer transport address
// matches peer. Session lists are expected to be short, so this is a
// linear scan, per spec.
func (e *BIBEntry) Lookup(peer Transport4) (*Session, bool) {
	for _, s := range e.Sessions {
		if s.V4Dst == peer {
			return s, true
		}
	}
	return nil, false
}

// LookupV6 finds the session in bib whose embedded IPv6 remote matches
// v6dst. Symmetric to Lookup.
func (e *BIBEntry) LookupV6(v6dst Transport6) (*Session, bool) {
	for _, s := range e.Sessions {
		if s.V6Dst == v6dst {
			return s, true
		}
	}
	return nil, false
}
