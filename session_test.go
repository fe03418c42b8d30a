package nat64

import "testing"

func TestSessionSrcAccessorsInheritFromBIB(t *testing.T) {
	bib := newTestBIB(t)
	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 51413}
	entry, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sess, _ := bib.EnsureSession(entry, v6dst, peer, ClassUDP, 1000)

	if sess.V6Src() != entry.V6Src {
		t.Fatal("Session.V6Src() did not match its owning BIB entry")
	}
	if sess.V4Src() != entry.V4Src {
		t.Fatal("Session.V4Src() did not match its owning BIB entry")
	}
	if sess.BIB() != entry {
		t.Fatal("Session.BIB() did not return the owning entry")
	}
}

func TestBIBEntryLookupAndLookupV6(t *testing.T) {
	bib := newTestBIB(t)
	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 51413}
	entry, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peerA := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dstA := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sessA, _ := bib.EnsureSession(entry, v6dstA, peerA, ClassUDP, 1000)

	peerB := Transport4{Addr: mustIPv4(t, "198.51.100.8"), Port: 443}
	v6dstB := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.8"), Port: 443}
	sessB, _ := bib.EnsureSession(entry, v6dstB, peerB, ClassUDP, 1000)

	if got, ok := entry.Lookup(peerA); !ok || got != sessA {
		t.Fatal("Lookup(peerA) did not return sessA")
	}
	if got, ok := entry.Lookup(peerB); !ok || got != sessB {
		t.Fatal("Lookup(peerB) did not return sessB")
	}
	if got, ok := entry.LookupV6(v6dstA); !ok || got != sessA {
		t.Fatal("LookupV6(v6dstA) did not return sessA")
	}
	if _, ok := entry.Lookup(Transport4{Addr: mustIPv4(t, "198.51.100.9"), Port: 22}); ok {
		t.Fatal("Lookup found a session for a peer that was never added")
	}
}
