package nat64

import "errors"

// Package nat64 implements the filtering-and-updating core of a stateful
// NAT64 translator: the Binding Information Base, the session table, the
// IPv4 transport-address pool, the TCP state machine, and the expiry
// queues that reclaim idle state. Header rewriting, checksum adjustment
// and kernel-hook plumbing live outside this package.

type (
	IPv4 [4]byte
	IPv6 [16]byte
)

// Proto is the closed set of L4 protocols this translator tracks state
// for. ICMP here always means Echo-request/-reply flows, keyed by the
// Echo identifier in place of a port.
type Proto uint8

const (
	ProtoICMP Proto = 1
	ProtoTCP  Proto = 6
	ProtoUDP  Proto = 17
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// Direction identifies which side of the translator a packet arrived
// from.
type Direction uint8

const (
	DirFromV6 Direction = iota
	DirFromV4
)

func (d Direction) String() string {
	if d == DirFromV6 {
		return "v6"
	}
	return "v4"
}

// Verdict is the accept/drop decision the filtering core hands back to
// the packet hook.
type Verdict uint8

const (
	Accept Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Accept {
		return "accept"
	}
	return "drop"
}

// Transport6 is an IPv6 transport address: a 128-bit address plus a
// 16-bit port (or, for ICMP, Echo identifier).
type Transport6 struct {
	Addr IPv6
	Port uint16
}

// Transport4 is an IPv4 transport address.
type Transport4 struct {
	Addr IPv4
	Port uint16
}

// V6Tuple and V4Tuple are the (protocol, source, destination) triple the Filter/Update
// entry point classifies each ingress packet by, in the address family
// matching its direction.
type V6Tuple struct {
	Proto Proto
	Src   Transport6
	Dst   Transport6
}

type V4Tuple struct {
	Proto Proto
	Src   Transport4
	Dst   Transport4
}

// Errors the core reports upward. Data-plane errors (PoolExhausted,
// NoBinding) never abort processing; ProcessV6/ProcessV4 translate them
// into a Drop verdict. Control-plane errors (NotFound, Inconsistent,
// Config) surface synchronously to the configuration caller and never
// touch the data plane.
var (
	ErrPoolExhausted = errors.New("nat64: pool4 exhausted")
	ErrNoBinding     = errors.New("nat64: no binding for inbound packet")
	ErrNotFound      = errors.New("nat64: address not found in pool4")
	ErrInconsistent  = errors.New("nat64: address present in a strict subset of pool4's protocol pools")
	ErrAlreadyExists = errors.New("nat64: address already registered in pool4")
	ErrConfig        = errors.New("nat64: invalid configuration parameter")
)
