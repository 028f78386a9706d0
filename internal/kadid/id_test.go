package kadid

import "testing"

func idWithFirstOneAt(bit int) ID {
	var out ID
	byteIdx := bit / 8
	bitInByte := bit % 8
	out[byteIdx] = 1 << uint(7-bitInByte)
	return out
}

func TestBucketIndexPositions(t *testing.T) {
	var self ID // all zeros

	for _, b := range []int{0, 1, 7, 8, 9, 255} {
		nid := idWithFirstOneAt(b)
		got, err := BucketIndex(self, nid)
		if err != nil {
			t.Fatalf("BucketIndex bit %d: unexpected error %v", b, err)
		}
		if got != b {
			t.Fatalf("BucketIndex bit %d: got %d want %d", b, got, b)
		}
	}
}

func TestBucketIndexSameIDErrors(t *testing.T) {
	self := RandomID()
	if _, err := BucketIndex(self, self); err != ErrSameID {
		t.Fatalf("expected ErrSameID, got %v", err)
	}
}

func TestDistanceXorSymmetry(t *testing.T) {
	a, b := RandomID(), RandomID()
	d1 := Distance(a, b)
	d2 := Distance(b, a)
	if d1 != d2 {
		t.Fatalf("distance not symmetric")
	}
	if !Distance(a, a).IsZero() {
		t.Fatalf("distance to self must be zero")
	}
}

func TestCompareTotalOrder(t *testing.T) {
	lo := idWithFirstOneAt(255)
	hi := idWithFirstOneAt(0)
	if Compare(lo, hi) >= 0 {
		t.Fatalf("expected lo < hi")
	}
	if Compare(hi, lo) <= 0 {
		t.Fatalf("expected hi > lo")
	}
	if Compare(lo, lo) != 0 {
		t.Fatalf("expected equal ids to compare 0")
	}
}

func TestCreateIDDeterministic(t *testing.T) {
	a := CreateID([]byte("hello"))
	b := CreateID([]byte("hello"))
	if a != b {
		t.Fatalf("CreateID not deterministic")
	}
	if a == CreateID([]byte("world")) {
		t.Fatalf("CreateID collided on distinct inputs")
	}
}

func TestRandomIDInBucketLandsInTargetBucket(t *testing.T) {
	self := RandomID()
	for _, i := range []int{0, 1, 63, 127, 254, 255} {
		other := RandomIDInBucket(self, i)
		got, err := BucketIndex(self, other)
		if err != nil {
			t.Fatalf("bucket %d: %v", i, err)
		}
		if got != i {
			t.Fatalf("RandomIDInBucket(%d): landed in bucket %d", i, got)
		}
	}
}

func TestIDStringRoundTripsThroughMultibase(t *testing.T) {
	id := RandomID()
	s := id.String()
	if s == "" {
		t.Fatalf("empty string encoding")
	}
	if id.String() != s {
		t.Fatalf("String() not stable across calls")
	}
	parsed, err := ParseID(s)
	if err != nil {
		t.Fatalf("ParseID(%q): %v", s, err)
	}
	if parsed != id {
		t.Fatalf("ParseID(String()) = %v, want %v", parsed, id)
	}
}
