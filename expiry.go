package nat64

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// queueElement is the node type backing a session's slot within its
// expiry queue, aliased so session.go doesn't need to import
// container/list directly.
type queueElement = *list.Element

// SessionClass is one of the five timeout categories determining which
// FIFO queue holds a session.
type SessionClass int

const (
	ClassUDP SessionClass = iota
	ClassTCPTrans
	ClassTCPEst
	ClassTCPIncomingSyn
	ClassICMP
	numClasses
)

func (c SessionClass) String() string {
	switch c {
	case ClassUDP:
		return "UDP"
	case ClassTCPTrans:
		return "TCP_TRANS"
	case ClassTCPEst:
		return "TCP_EST"
	case ClassTCPIncomingSyn:
		return "TCP_INCOMING_SYN"
	case ClassICMP:
		return "ICMP"
	default:
		return "UNKNOWN"
	}
}

// Timeouts holds the per-class session lifetimes, in seconds. Zero
// values are replaced with DefaultTimeouts' values by NewExpiryManager.
type Timeouts struct {
	UDP            int64
	ICMP           int64
	TCPTrans       int64
	TCPEst         int64
	TCPIncomingSyn int64
}

// DefaultTimeouts returns the spec-mandated defaults: 5 minutes for UDP,
// 1 minute for ICMP, 4 minutes for TCP transitory, 2h4m for TCP
// established (RFC 6146), and 6 seconds for the incoming-SYN grace
// window.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		UDP:            5 * 60,
		ICMP:           1 * 60,
		TCPTrans:       4 * 60,
		TCPEst:         2*60*60 + 4*60,
		TCPIncomingSyn: 6,
	}
}

// expiryQueue is one FIFO queue, kept in non-decreasing deadline order by
// construction: sessions are only ever appended (new or renewed), never
// inserted out of order, so the sweep can stop at the first unexpired
// entry.
type expiryQueue struct {
	mu    sync.Mutex
	items *list.List
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{items: list.New()}
}

// ExpiryManager owns the five FIFO timeout queues and garbage-collects
// expired sessions, cascading BIB/Pool4 reclaim. There are no
// per-session timers: a single periodic sweep per queue does the work,
// which is the single most important performance decision in this
// design and must be preserved by any future change.
type ExpiryManager struct {
	queues   [numClasses]*expiryQueue
	timeouts [numClasses]int64

	bib *BIBTable // bound after construction, see bindBIB
	log *logrus.Entry
}

// NewExpiryManager builds an ExpiryManager with the given per-class
// timeouts. Zero fields fall back to DefaultTimeouts' values.
func NewExpiryManager(t Timeouts) *ExpiryManager {
	defaults := DefaultTimeouts()
	if t.UDP == 0 {
		t.UDP = defaults.UDP
	}
	if t.ICMP == 0 {
		t.ICMP = defaults.ICMP
	}
	if t.TCPTrans == 0 {
		t.TCPTrans = defaults.TCPTrans
	}
	if t.TCPEst == 0 {
		t.TCPEst = defaults.TCPEst
	}
	if t.TCPIncomingSyn == 0 {
		t.TCPIncomingSyn = defaults.TCPIncomingSyn
	}

	m := &ExpiryManager{log: logrus.WithField("component", "expiry")}
	for c := SessionClass(0); c < numClasses; c++ {
		m.queues[c] = newExpiryQueue()
	}
	m.timeouts[ClassUDP] = t.UDP
	m.timeouts[ClassTCPTrans] = t.TCPTrans
	m.timeouts[ClassTCPEst] = t.TCPEst
	m.timeouts[ClassTCPIncomingSyn] = t.TCPIncomingSyn
	m.timeouts[ClassICMP] = t.ICMP
	return m
}

// bindBIB completes the two-phase wiring between ExpiryManager and
// BIBTable: each needs a reference to the other (enqueue-on-create,
// reclaim-on-expire), so NewCore constructs both, then ties the knot.
func (m *ExpiryManager) bindBIB(t *BIBTable) { m.bib = t }

// enqueue appends s to the tail of class's queue with a fresh deadline.
// Appending, never inserting, is what keeps the queue time-ordered
// without a separate sort step. s must not already be enqueued anywhere.
func (m *ExpiryManager) enqueue(s *Session, class SessionClass, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.enqueueLocked(s, class, now)
}

// enqueueLocked is enqueue's body, assuming the caller already holds
// s.mu. Used directly by renewLocked, which has already removed s from
// its old queue under the same lock.
func (m *ExpiryManager) enqueueLocked(s *Session, class SessionClass, now int64) {
	s.Class = class
	s.Deadline = now + m.timeouts[class]

	q := m.queues[class]
	q.mu.Lock()
	s.queueElem = q.items.PushBack(s)
	q.mu.Unlock()
}

// Renew moves s to the tail of class's queue with a refreshed deadline,
// removing it from its current queue first. Two renewals of the same
// session within one tick leave it in exactly one queue, at the later
// deadline — renew is idempotent in that sense by construction, since
// the second call simply repeats the remove-then-append.
func (m *ExpiryManager) Renew(s *Session, class SessionClass, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.renewLocked(s, class, now)
}

// renewLocked is Renew's body, assuming the caller already holds s.mu
// for the whole operation. The TCP FSM (tcpfsm.go) calls this directly
// since it already holds s.mu across its entire state transition —
// State, Class and Deadline all change, or don't, as one atomic step.
func (m *ExpiryManager) renewLocked(s *Session, class SessionClass, now int64) {
	if s.queueElem != nil {
		old := m.queues[s.Class]
		old.mu.Lock()
		old.items.Remove(s.queueElem)
		old.mu.Unlock()
		s.queueElem = nil
	}

	m.enqueueLocked(s, class, now)
}

// tcpTimeoutDemote implements the idle-demotion rule: a TCP session in
// ESTABLISHED that times out is given one more chance as TRANS instead
// of being destroyed outright. UDP/ICMP sessions are created in (and
// never leave) StateEstablished too, but that's a fixed, never-renewed
// marker for them, not a TCP connection state — they have no TRANS
// state to demote into and must be destroyed directly on first expiry.
func tcpTimeoutDemote(s *Session) bool {
	if s.bib.Proto == ProtoTCP && s.State == StateEstablished {
		s.State = StateTrans
		return true
	}
	return false
}

// sweepClass walks class's queue from the head, reclaiming every session
// whose deadline has passed, until it finds one that hasn't (queues are
// time-ordered, so that ends the scan).
//
// Peeking the front element happens under q.mu alone; every read or
// write of the session's own fields happens under sess.mu, taken only
// after q.mu is released, so this never holds q.mu and sess.mu at once
// in the reverse of the order renewLocked uses (sess.mu, then q.mu).
// That keeps the two locks from ever deadlocking against a concurrent
// StepV6/StepV4/Renew call on the same session.
func (m *ExpiryManager) sweepClass(class SessionClass, now int64) {
	q := m.queues[class]

	for {
		q.mu.Lock()
		front := q.items.Front()
		q.mu.Unlock()
		if front == nil {
			return
		}
		sess := front.Value.(*Session)

		sess.mu.Lock()

		// sess may have been renewed into a different queue, or already
		// reaped, between the peek above and taking this lock.
		if sess.queueElem != front || sess.Class != class {
			sess.mu.Unlock()
			continue
		}
		if now <= sess.Deadline {
			sess.mu.Unlock()
			return
		}

		q.mu.Lock()
		q.items.Remove(front)
		q.mu.Unlock()
		sess.queueElem = nil

		demoted := tcpTimeoutDemote(sess)
		if demoted {
			m.enqueueLocked(sess, ClassTCPTrans, now)
		}
		sess.mu.Unlock()

		if demoted {
			continue
		}

		m.log.WithFields(logrus.Fields{
			"v4dst": sess.V4Dst.Addr,
			"class": class,
		}).Debug("reaping expired session")
		m.bib.removeSession(sess.bib, sess)
	}
}

// RunMaintenance sweeps every queue for sessions past their deadline.
// Sweep cadence is an implementation choice made by the caller (see
// Core.RunMaintenance); correctness only requires that it run at least
// as often as the shortest configured timeout so stale entries are
// reclaimed in bounded time. The five queues are independent, so each
// sweeps concurrently.
func (m *ExpiryManager) RunMaintenance(now int64) {
	var g errgroup.Group
	for c := SessionClass(0); c < numClasses; c++ {
		class := c
		g.Go(func() error {
			m.sweepClass(class, now)
			return nil
		})
	}
	_ = g.Wait()
}
