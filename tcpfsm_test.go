package nat64

import "testing"

func newTestSession(proto Proto, class SessionClass) (*BIBTable, *Session) {
	pool := NewPool4()
	_ = pool.Register(IPv4{203, 0, 113, 1})
	expiry := NewExpiryManager(DefaultTimeouts())
	bib := NewBIBTable(pool, expiry)
	expiry.bindBIB(bib)

	entry, _ := bib.LookupOrCreateV6(proto, Transport6{Addr: IPv6{0x20, 0x01, 0x0d, 0xb8}, Port: 4000})
	peer := Transport4{Addr: IPv4{198, 51, 100, 7}, Port: 80}
	sess, _ := bib.EnsureSession(entry, Transport6{Port: 80}, peer, class, 0)
	return bib, sess
}

func TestTCPFSMHandshakeFollowsSynSynAckAck(t *testing.T) {
	bib, sess := newTestSession(ProtoTCP, ClassTCPTrans)

	bib.expiry.StepV6(sess, TCPFlagSYN, 0)
	if sess.State != StateV6SynRcv {
		t.Fatalf("after v6 SYN: got state %v, want StateV6SynRcv", sess.State)
	}

	bib.expiry.StepV4(sess, TCPFlagSYN|TCPFlagACK, 1)
	if sess.State != StateEstablished {
		t.Fatalf("after v4 SYN/ACK: got state %v, want StateEstablished", sess.State)
	}
	if sess.Class != ClassTCPEst {
		t.Fatalf("after v4 SYN/ACK: got class %v, want ClassTCPEst", sess.Class)
	}

	bib.expiry.StepV6(sess, TCPFlagACK, 2)
	if sess.State != StateEstablished {
		t.Fatalf("after v6 ACK: got state %v, want StateEstablished (a plain ACK keeps the session established)", sess.State)
	}
}

func TestTCPFSMRepeatedV4SynInV4SynRcvIsANoOp(t *testing.T) {
	bib, sess := newTestSession(ProtoTCP, ClassTCPTrans)
	sess.State = StateV4SynRcv
	sess.Deadline = 500

	bib.expiry.StepV4(sess, TCPFlagSYN, 999)

	if sess.State != StateV4SynRcv {
		t.Fatalf("got state %v, want it to remain StateV4SynRcv", sess.State)
	}
	if sess.Deadline != 500 {
		t.Fatalf("got deadline %d, a repeated V4_SYN_RCV SYN must not renew the session", sess.Deadline)
	}
}

func TestTCPFSMFinExchangeReachesTerminalState(t *testing.T) {
	bib, sess := newTestSession(ProtoTCP, ClassTCPEst)
	sess.State = StateEstablished

	bib.expiry.StepV6(sess, TCPFlagFIN, 10)
	if sess.State != StateV6FinRcv {
		t.Fatalf("after v6 FIN: got state %v, want StateV6FinRcv", sess.State)
	}

	bib.expiry.StepV4(sess, TCPFlagFIN, 11)
	if sess.State != StateV6FinV4Fin {
		t.Fatalf("after v4 FIN: got state %v, want StateV6FinV4Fin", sess.State)
	}
	if sess.Class != ClassTCPTrans {
		t.Fatalf("after both FINs: got class %v, want ClassTCPTrans", sess.Class)
	}
}

func TestTCPFSMRstDemotesToTrans(t *testing.T) {
	bib, sess := newTestSession(ProtoTCP, ClassTCPEst)
	sess.State = StateEstablished

	bib.expiry.StepV6(sess, TCPFlagRST, 20)
	if sess.State != StateTrans {
		t.Fatalf("after RST: got state %v, want StateTrans", sess.State)
	}
	if sess.Class != ClassTCPTrans {
		t.Fatalf("after RST: got class %v, want ClassTCPTrans", sess.Class)
	}

	bib.expiry.StepV4(sess, TCPFlagACK, 21)
	if sess.State != StateEstablished {
		t.Fatalf("after a non-RST packet in TRANS: got state %v, want StateEstablished", sess.State)
	}
}
