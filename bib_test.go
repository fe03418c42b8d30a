package nat64

import "testing"

func newTestBIB(t *testing.T) *BIBTable {
	t.Helper()
	pool := NewPool4()
	if err := pool.Register(mustIPv4(t, "203.0.113.1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	expiry := NewExpiryManager(DefaultTimeouts())
	bib := NewBIBTable(pool, expiry)
	expiry.bindBIB(bib)
	return bib
}

func mustIPv6(t *testing.T, s string) IPv6 {
	t.Helper()
	ip, err := ParseIPv6(s)
	if err != nil {
		t.Fatalf("ParseIPv6(%q): %v", s, err)
	}
	return ip
}

func TestBIBLookupOrCreateIsIdempotent(t *testing.T) {
	bib := newTestBIB(t)
	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 51413}

	e1, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}
	e2, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6 second call: %v", err)
	}
	if e1 != e2 {
		t.Fatal("LookupOrCreateV6 returned two different BIB entries for the same source")
	}

	if got, ok := bib.LookupV4(ProtoUDP, e1.V4Src); !ok || got != e1 {
		t.Fatal("LookupV4 did not find the entry created by LookupOrCreateV6")
	}
}

func TestBIBEnsureSessionDeduplicates(t *testing.T) {
	bib := newTestBIB(t)
	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 51413}
	entry, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}

	s1, created1 := bib.EnsureSession(entry, v6dst, peer, ClassUDP, 1000)
	s2, created2 := bib.EnsureSession(entry, v6dst, peer, ClassUDP, 1001)

	if !created1 {
		t.Fatal("first EnsureSession call should report created=true")
	}
	if created2 {
		t.Fatal("second EnsureSession call with the same peer should report created=false")
	}
	if s1 != s2 {
		t.Fatal("EnsureSession returned two different sessions for the same peer")
	}
}

func TestBIBRemoveSessionReclaimsEmptyEntry(t *testing.T) {
	bib := newTestBIB(t)
	v6 := Transport6{Addr: mustIPv6(t, "2001:db8::1"), Port: 51413}
	entry, err := bib.LookupOrCreateV6(ProtoUDP, v6)
	if err != nil {
		t.Fatalf("LookupOrCreateV6: %v", err)
	}

	peer := Transport4{Addr: mustIPv4(t, "198.51.100.7"), Port: 80}
	v6dst := Transport6{Addr: mustIPv6(t, "64:ff9b::198.51.100.7"), Port: 80}
	sess, _ := bib.EnsureSession(entry, v6dst, peer, ClassUDP, 1000)

	bib.removeSession(entry, sess)

	if _, ok := bib.LookupV6(ProtoUDP, v6); ok {
		t.Fatal("BIB entry should have been removed once its last session was reclaimed")
	}
	if _, ok := bib.LookupV4(ProtoUDP, entry.V4Src); ok {
		t.Fatal("BIB entry's IPv4 index should have been removed too")
	}
	if !bib.pool.Contains(entry.V4Src.Addr) {
		t.Fatal("pool4 address should remain registered after port reclaim")
	}
}
