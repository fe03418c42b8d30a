package nat64

// TCPFlags is the subset of TCP header flags the FSM cares about.
type TCPFlags uint8

const (
	TCPFlagFIN TCPFlags = 1 << 0
	TCPFlagSYN TCPFlags = 1 << 1
	TCPFlagRST TCPFlags = 1 << 2
	TCPFlagACK TCPFlags = 1 << 4
)

func (f TCPFlags) has(bit TCPFlags) bool { return f&bit != 0 }

// StepV6 drives sess's state machine for a packet arriving from the
// IPv6 side, per spec's TCP FSM table, and renews sess into whichever
// expiry class that transition calls for. A session's state never
// changes on an event the table doesn't list; it simply keeps its
// current deadline.
//
// sess.mu is held for the whole step, so a concurrent StepV4 or Renew
// on the same session from another ingress goroutine blocks until this
// transition (state change plus renew) has fully landed — two packets
// of the same flow are serialized in ingress order, never interleaved.
func (m *ExpiryManager) StepV6(sess *Session, flags TCPFlags, now int64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.State {
	case StateClosed:
		if flags.has(TCPFlagSYN) {
			sess.State = StateV6SynRcv
			m.renewLocked(sess, ClassTCPTrans, now)
		}
	case StateV6SynRcv:
		if flags.has(TCPFlagSYN) {
			m.renewLocked(sess, ClassTCPTrans, now)
		}
	case StateV4SynRcv:
		if flags.has(TCPFlagSYN) {
			sess.State = StateEstablished
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateTrans:
		if !flags.has(TCPFlagRST) {
			sess.State = StateEstablished
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateEstablished:
		switch {
		case flags.has(TCPFlagFIN):
			sess.State = StateV6FinRcv
		case flags.has(TCPFlagRST):
			sess.State = StateTrans
			m.renewLocked(sess, ClassTCPTrans, now)
		default:
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateV6FinRcv:
		m.renewLocked(sess, ClassTCPEst, now)
	case StateV4FinRcv:
		if flags.has(TCPFlagFIN) {
			sess.State = StateV6FinV4Fin
			m.renewLocked(sess, ClassTCPTrans, now)
		} else {
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateV6FinV4Fin:
		// terminal; will be reaped from the TCP_TRANS queue once idle.
	}
}

// StepV4 drives sess's state machine for a packet arriving from the
// IPv4 side, the mirror image of StepV6. See StepV6 for the locking
// discipline.
func (m *ExpiryManager) StepV4(sess *Session, flags TCPFlags, now int64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.State {
	case StateClosed:
		// Handled by the caller: an incoming IPv4 SYN with no IPv6
		// state yet is the simultaneous-open case, gated by
		// Config.AllowSimultaneousOpen (see core.go).
	case StateV6SynRcv:
		if flags.has(TCPFlagSYN) {
			sess.State = StateEstablished
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateV4SynRcv:
		// No event is defined here: this mirrors the reference
		// implementation, which deliberately leaves a repeated
		// IPv4-origin SYN in V4_SYN_RCV unrenewed.
	case StateTrans:
		if !flags.has(TCPFlagRST) {
			sess.State = StateEstablished
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateEstablished:
		switch {
		case flags.has(TCPFlagFIN):
			sess.State = StateV4FinRcv
		case flags.has(TCPFlagRST):
			sess.State = StateTrans
			m.renewLocked(sess, ClassTCPTrans, now)
		default:
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateV6FinRcv:
		if flags.has(TCPFlagFIN) {
			sess.State = StateV6FinV4Fin
			m.renewLocked(sess, ClassTCPTrans, now)
		} else {
			m.renewLocked(sess, ClassTCPEst, now)
		}
	case StateV4FinRcv:
		m.renewLocked(sess, ClassTCPEst, now)
	case StateV6FinV4Fin:
		// terminal.
	}
}
