package id

import "testing"

func TestXorSelfIsZero(t *testing.T) {
	a := Random()
	if Xor(a, a) != Zero {
		t.Fatalf("expected a xor a == 0")
	}
}

func TestLess(t *testing.T) {
	a := ID{}
	b := ID{}
	b[Size-1] = 1

	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("expected %v !< %v", b, a)
	}
}

func TestRandomInRangeBounds(t *testing.T) {
	low := ID{}
	high := ID{}
	high[0] = 0x0f

	for i := 0; i < 200; i++ {
		v := RandomInRange(low, high)
		if !low.LessOrEqual(v) || !v.LessOrEqual(high) {
			t.Fatalf("RandomInRange produced %v outside [%v, %v]", v, low, high)
		}
	}
}

func TestCommonPrefixLen(t *testing.T) {
	a := ID{}
	b := ID{}
	if a.CommonPrefixLen(b) != Bits {
		t.Fatalf("expected equal IDs to share full prefix, got %d", a.CommonPrefixLen(b))
	}

	b[0] = 0x80 // flip the MSB
	if got := a.CommonPrefixLen(b); got != 0 {
		t.Fatalf("expected 0 common bits, got %d", got)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	a := Random()
	parsed, err := FromBytes(a.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if parsed != a {
		t.Fatalf("round trip mismatch: %v != %v", parsed, a)
	}
}

func TestTextRoundTrip(t *testing.T) {
	a := Random()
	text, err := a.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var b ID
	if err := b.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if a != b {
		t.Fatalf("text round trip mismatch: %v != %v", a, b)
	}
}
