package nat64

import "testing"

func TestExpiryManagerEnqueueAndSweepReclaims(t *testing.T) {
	bib := newTestBIB(t)
	expiry := bib.expiry

	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 4000}
	entry, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sess, _ := bib.EnsureSession(entry, v6dst, peer, ClassUDP, 1000)

	if sess.Deadline != 1000+DefaultTimeouts().UDP {
		t.Fatalf("got deadline %d, want %d", sess.Deadline, 1000+DefaultTimeouts().UDP)
	}

	expiry.RunMaintenance(1000)
	if _, ok := bib.LookupV6(ProtoUDP, v6); !ok {
		t.Fatal("session should not have been reaped before its deadline")
	}

	expiry.RunMaintenance(sess.Deadline + 1)
	if _, ok := bib.LookupV6(ProtoUDP, v6); ok {
		t.Fatal("session should have been reaped once its deadline passed")
	}
}

func TestExpiryManagerRenewMovesQueues(t *testing.T) {
	bib := newTestBIB(t)
	expiry := bib.expiry

	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 4000}
	entry, err := bib.LookupOrCreateV6(ProtoTCP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sess, _ := bib.EnsureSession(entry, v6dst, peer, ClassTCPTrans, 1000)

	expiry.Renew(sess, ClassTCPEst, 2000)

	if sess.Class != ClassTCPEst {
		t.Fatalf("got class %v, want ClassTCPEst", sess.Class)
	}
	if sess.Deadline != 2000+DefaultTimeouts().TCPEst {
		t.Fatalf("got deadline %d, want %d", sess.Deadline, 2000+DefaultTimeouts().TCPEst)
	}

	if front := expiry.queues[ClassTCPTrans].items.Front(); front != nil {
		t.Fatal("session should have been removed from its old queue on renew")
	}
	if front := expiry.queues[ClassTCPEst].items.Front(); front == nil || front.Value.(*Session) != sess {
		t.Fatal("session should be at the front of its new queue after renew")
	}
}

func TestExpiryManagerDemotesIdleEstablishedSession(t *testing.T) {
	bib := newTestBIB(t)
	expiry := bib.expiry

	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 4000}
	entry, err := bib.LookupOrCreateV6(ProtoTCP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sess, _ := bib.EnsureSession(entry, v6dst, peer, ClassTCPTrans, 1000)
	sess.State = StateEstablished
	expiry.Renew(sess, ClassTCPEst, 1000)

	expiry.RunMaintenance(sess.Deadline + 1)

	if sess.State != StateTrans {
		t.Fatalf("got state %v after idle timeout, want StateTrans", sess.State)
	}
	if sess.Class != ClassTCPTrans {
		t.Fatalf("got class %v after demotion, want ClassTCPTrans", sess.Class)
	}
	if _, ok := bib.LookupV6(ProtoTCP, v6); !ok {
		t.Fatal("demoted session's BIB entry should survive the sweep that demoted it")
	}
}

func TestDefaultTimeoutsFillsZeroFields(t *testing.T) {
	m := NewExpiryManager(Timeouts{UDP: 10})
	if m.timeouts[ClassUDP] != 10 {
		t.Fatalf("got UDP timeout %d, want the explicit override of 10", m.timeouts[ClassUDP])
	}
	if m.timeouts[ClassICMP] != DefaultTimeouts().ICMP {
		t.Fatalf("got ICMP timeout %d, want the default", m.timeouts[ClassICMP])
	}
}
