package nat64

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Clock returns the current time as an absolute count of seconds.
// Session deadlines are computed against this, not wall-clock time, so
// an operator adjusting the system clock never causes premature or
// delayed expiry.
type Clock func() int64

// MonotonicClock reads CLOCK_MONOTONIC directly rather than going
// through time.Now, so a leap-second or NTP step never perturbs a
// session's remaining lifetime. Falls back to time.Now on platforms
// where the syscall is unavailable.
func MonotonicClock() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().Unix()
	}
	return int64(ts.Sec)
}

// Core is the filtering-and-updating entry point: for each ingress
// tuple it looks up or creates the owning BIB entry and session, drives
// the TCP state machine or renews the session's deadline, and returns
// an accept/drop verdict. It owns no goroutines of its own; callers
// drive RunMaintenance on whatever cadence fits their packet-pump loop.
type Core struct {
	Pool4  *Pool4
	BIB    *BIBTable
	Expiry *ExpiryManager

	Prefix                IPv6
	PrefixLen             int
	AllowSimultaneousOpen bool

	Now Clock

	log *logrus.Entry
}

// NewCore wires a Pool4, BIBTable and ExpiryManager together from cfg,
// completing the two-phase construction ExpiryManager.bindBIB exists
// for, and registers cfg's pool4 addresses.
func NewCore(cfg Config) (*Core, error) {
	prefix, err := cfg.parsedPrefix()
	if err != nil {
		return nil, err
	}
	addrs, err := cfg.parsedPool4()
	if err != nil {
		return nil, err
	}

	pool := NewPool4()
	expiry := NewExpiryManager(cfg.timeouts())
	bib := NewBIBTable(pool, expiry)
	expiry.bindBIB(bib)

	prefixLen := cfg.PrefixLen
	if prefixLen == 0 {
		prefixLen = 96
	}
	if !validPrefixLengths[prefixLen] {
		return nil, fmt.Errorf("nat64: prefix length /%d: %w", prefixLen, ErrConfig)
	}

	c := &Core{
		Pool4:                 pool,
		BIB:                   bib,
		Expiry:                expiry,
		Prefix:                prefix,
		PrefixLen:             prefixLen,
		AllowSimultaneousOpen: cfg.AllowSimultaneousOpen,
		Now:                   MonotonicClock,
		log:                   logrus.WithField("component", "core"),
	}

	for _, addr := range addrs {
		if err := pool.Register(addr); err != nil {
			return nil, fmt.Errorf("nat64: registering pool4 address %s: %w", addr, err)
		}
	}
	return c, nil
}

// classForProto maps a protocol onto the expiry class a freshly created
// session starts in. TCP sessions are reclassified immediately by the
// FSM on their first real transition; this only matters for the brief
// window before that first StepV6/StepV4 call.
func classForProto(proto Proto) SessionClass {
	switch proto {
	case ProtoTCP:
		return ClassTCPTrans
	case ProtoICMP:
		return ClassICMP
	default:
		return ClassUDP
	}
}

// logDrop records a dropped packet at debug level, tagged with which
// side of the translator it arrived from — useful for telling a
// misconfigured-BIB drop on the IPv6 ingress apart from an unsolicited
// IPv4 drop on the other side when both log the same underlying error.
func (c *Core) logDrop(dir Direction, proto Proto, err error) {
	c.log.WithError(err).WithFields(logrus.Fields{"direction": dir, "proto": proto}).Debug("dropping packet")
}

// ProcessV6 is the IPv6-ingress half of the filtering-and-updating
// core: look up or create the BIB entry owning tuple.Src, extract the
// embedded IPv4 destination, look up or create the session authorizing
// that peer, and drive the TCP FSM (or renew, for UDP/ICMP).
func (c *Core) ProcessV6(tuple V6Tuple, flags TCPFlags) Verdict {
	now := c.Now()

	entry, err := c.BIB.LookupOrCreateV6(tuple.Proto, tuple.Src)
	if err != nil {
		c.logDrop(DirFromV6, tuple.Proto, err)
		return Drop
	}

	v4dstAddr, err := ExtractV4(tuple.Dst.Addr, c.PrefixLen)
	if err != nil {
		c.log.WithError(err).WithField("dst", tuple.Dst.Addr).WithField("direction", DirFromV6).Warn("failed to extract embedded IPv4 destination")
		return Drop
	}
	v4dst := Transport4{Addr: v4dstAddr, Port: tuple.Dst.Port}

	sess, _ := c.BIB.EnsureSession(entry, tuple.Dst, v4dst, classForProto(tuple.Proto), now)

	switch tuple.Proto {
	case ProtoTCP:
		c.Expiry.StepV6(sess, flags, now)
	default:
		c.Expiry.Renew(sess, classForProto(tuple.Proto), now)
	}
	return Accept
}

// ProcessV4 is the IPv4-ingress half: look up the BIB entry owning
// tuple.Dst, look up the session authorizing tuple.Src as a peer, and
// drive the TCP FSM (or renew). A packet with no matching BIB is always
// dropped — NAT64 never originates outbound IPv4 connections. A TCP SYN
// with no matching session is dropped unless AllowSimultaneousOpen
// provisions a TCP_INCOMING_SYN session for it to land in.
func (c *Core) ProcessV4(tuple V4Tuple, flags TCPFlags) Verdict {
	now := c.Now()

	entry, ok := c.BIB.LookupV4(tuple.Proto, tuple.Dst)
	if !ok {
		c.logDrop(DirFromV4, tuple.Proto, ErrNoBinding)
		return Drop
	}

	sess, ok := c.BIB.LookupSession(entry, tuple.Src)
	if !ok {
		if tuple.Proto != ProtoTCP || !c.AllowSimultaneousOpen || !flags.has(TCPFlagSYN) {
			c.logDrop(DirFromV4, tuple.Proto, ErrNoBinding)
			return Drop
		}

		v6dst, err := EmbedV4(c.Prefix, c.PrefixLen, tuple.Src.Addr)
		if err != nil {
			c.log.WithError(err).WithField("direction", DirFromV4).Warn("failed to embed IPv4 peer for simultaneous-open session")
			return Drop
		}
		sess, _ = c.BIB.EnsureSession(entry, Transport6{Addr: v6dst, Port: tuple.Src.Port}, tuple.Src, ClassTCPIncomingSyn, now)
	}

	switch tuple.Proto {
	case ProtoTCP:
		c.Expiry.StepV4(sess, flags, now)
	default:
		c.Expiry.Renew(sess, classForProto(tuple.Proto), now)
	}
	return Accept
}

// RunMaintenance sweeps every expiry queue for sessions past their
// deadline, cascading BIB and Pool4 reclaim for any that empty out.
// Callers should invoke this on a fixed interval no longer than the
// shortest configured timeout (TCPIncomingSynTimeout, by default).
func (c *Core) RunMaintenance(now int64) {
	c.Expiry.RunMaintenance(now)
}

// Pool4Add registers a new IPv4 transport address for translation.
func (c *Core) Pool4Add(addr IPv4) error {
	return c.Pool4.Register(addr)
}

// Pool4Remove withdraws addr from the pool. In-flight sessions already
// bound to addr are unaffected; they drain naturally as their BIB
// entries expire.
func (c *Core) Pool4Remove(addr IPv4) error {
	return c.Pool4.Remove(addr)
}

// Pool4List enumerates every registered IPv4 transport address.
func (c *Core) Pool4List() []IPv4 {
	return c.Pool4.ToArray()
}
