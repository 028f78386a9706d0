// Package kadid implements the fixed-width identifier arithmetic that the
// routing table and iterative lookups are built on: XOR distance, unsigned
// comparison, and the bucket-index / random-in-bucket helpers Kademlia needs.
package kadid

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	mbase "github.com/multiformats/go-multibase"
	"lukechampine.com/blake3"
)

// Size is the width of an ID in bytes. 32 bytes (256 bits) matches the
// BLAKE3-256 digest CreateID hashes keys with.
const Size = 32

// Bits is the identifier width in bits.
const Bits = Size * 8

// ID is a fixed-width unsigned integer, big-endian byte order.
type ID [Size]byte

// ErrSameID is returned by BucketIndex when asked for the distance of an
// identifier to itself; the bucket index is undefined in that case.
var ErrSameID = errors.New("kadid: bucket index undefined for identical ids")

// String renders a self-describing multibase (base32) encoding, the same
// idiom this codebase uses for content identifiers elsewhere.
func (id ID) String() string {
	s, err := mbase.Encode(mbase.Base32, id[:])
	if err != nil {
		// mbase.Encode only fails for unknown encodings; Base32 is always valid.
		panic(err)
	}
	return s
}

// ParseID decodes a multibase-encoded identifier previously produced by
// String. It is used to recover a FIND_NODE target carried as a string in
// a wire message.
func ParseID(s string) (ID, error) {
	_, data, err := mbase.Decode(s)
	if err != nil {
		return ID{}, err
	}
	if len(data) != Size {
		return ID{}, errors.New("kadid: decoded identifier has wrong length")
	}
	var id ID
	copy(id[:], data)
	return id, nil
}

// Bytes returns the big-endian byte representation of id.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// IsZero reports whether id is the all-zero identifier.
func (id ID) IsZero() bool {
	var zero ID
	return id == zero
}

// RandomID returns a cryptographically random identifier.
func RandomID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

// CreateID hashes arbitrary key material into an ID with BLAKE3-256.
func CreateID(key []byte) ID {
	return ID(blake3.Sum256(key))
}

// Distance is the Kademlia XOR metric; the result is itself a valid ID.
func Distance(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Compare performs an unsigned, big-endian comparison of two identifiers
// (or of two XOR distances), returning -1, 0, or 1.
func Compare(a, b ID) int {
	return subtleCompare(a[:], b[:])
}

func subtleCompare(a, b []byte) int {
	// crypto/subtle has no ordered compare; bytes are already big-endian so a
	// plain lexicographic walk gives an unsigned total order.
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether a and b are the same identifier, in constant time.
func Equal(a, b ID) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Less reports whether a sorts before b under Compare.
func Less(a, b ID) bool {
	return Compare(a, b) < 0
}

// BucketIndex returns the position of the most significant differing bit
// between self and other: the count of leading zero bits in their XOR
// distance. It is undefined (ErrSameID) when self == other.
func BucketIndex(self, other ID) (int, error) {
	if self == other {
		return 0, ErrSameID
	}
	d := Distance(self, other)
	return leadingZeroBits(d), nil
}

func leadingZeroBits(d ID) int {
	lz := 0
	for _, b := range d {
		if b == 0 {
			lz += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if (b>>uint(bit))&1 == 0 {
				lz++
			} else {
				return lz
			}
		}
	}
	return Bits - 1
}

// RandomIDInBucket returns an ID whose distance to self has its most
// significant set bit at position i: an id that BucketIndex(self, id) would
// place in bucket i. Used to pick refresh targets for stale buckets.
func RandomIDInBucket(self ID, i int) ID {
	if i < 0 {
		i = 0
	}
	if i >= Bits {
		i = Bits - 1
	}

	var d ID
	_, _ = rand.Read(d[:])

	byteIdx := i / 8
	bitInByte := i % 8

	for j := 0; j < byteIdx; j++ {
		d[j] = 0
	}
	// Bits strictly less significant than the target bit stay random; the
	// target bit itself is forced to 1 so the leading-zero count is exactly i.
	mask := byte(0xFF >> uint(bitInByte+1))
	d[byteIdx] = (d[byteIdx] & mask) | (1 << uint(7-bitInByte))

	return Distance(self, d)
}
