package scan

import "testing"

func TestReverseBitsInvolution(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if got := ReverseBits(ReverseBits(b)); got != b {
			t.Fatalf("ReverseBits(ReverseBits(%#x)) = %#x, want %#x", b, got, b)
		}
	}
}

func TestReverseBitsKnownValues(t *testing.T) {
	cases := []struct{ in, want byte }{
		{0b00000001, 0b10000000},
		{0b11000000, 0b00000011},
		{0b00011100, 0b00111000},
		{0x00, 0x00},
		{0xFF, 0xFF},
	}
	for _, c := range cases {
		if got := ReverseBits(c.in); got != c.want {
			t.Errorf("ReverseBits(%#08b) = %#08b, want %#08b", c.in, got, c.want)
		}
	}
}

func TestComputeParityOddOverall(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		p := ComputeParity(b)
		if p != 0 && p != 1 {
			t.Fatalf("ComputeParity(%#x) = %d, want 0 or 1", b, p)
		}
		ones := 0
		for v := b; v != 0; v &= v - 1 {
			ones++
		}
		wantEven := ones%2 == 0
		if (p == 1) != wantEven {
			t.Errorf("ComputeParity(%#x): popcount=%d, got parity bit %d", b, ones, p)
		}
		// With the parity bit appended, total set bits must be odd.
		total := ones + int(p)
		if total%2 == 0 {
			t.Errorf("byte %#x with parity bit %d has even total weight %d, want odd", b, p, total)
		}
	}
}

func TestLookupKnownKeys(t *testing.T) {
	cases := []struct {
		name string
		in   byte
		want byte
	}{
		{"A make", 0x1C, 0x1E},
		{"left ctrl", 0x14, 0x1D},
		{"cursor up (extended payload)", 0x75, 0x48},
		{"scroll lock", KeyScrollLock, 0x46},
		{"num lock / pause trailer", KeyNumLock, 0x45},
		{"caps lock", KeyCapsLock, 0x3A},
	}
	for _, c := range cases {
		if got := Lookup(c.in); got != c.want {
			t.Errorf("%s: Lookup(%#x) = %#x, want %#x", c.name, c.in, got, c.want)
		}
	}
}

func TestLookupOutOfDomain(t *testing.T) {
	for _, b := range []byte{132, 200, 255} {
		if got := Lookup(b); got != 0 {
			t.Errorf("Lookup(%#x) = %#x, want 0 (out of table domain)", b, got)
		}
	}
}
