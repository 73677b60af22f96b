package cache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte keyed BLAKE3 hash of entry content.
type Digest [32]byte

// contentKey separates content digests from other uses of BLAKE3.
var contentKey = [32]byte{
	'p', 'r', 'o', 'm', 'p', 't', 'a', 'r', 'e', 'n', 'a', '.', 'c', 'o', 'n', 't',
	'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Sum returns the content digest of data.
func Sum(data []byte) Digest {
	hasher, err := blake3.NewKeyed(contentKey[:])
	if err != nil {
		panic("cache: blake3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return d.String()[:12]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
