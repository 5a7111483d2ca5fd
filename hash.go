// Hash algorithms for shard selection.
//
// The concurrent maps spread entries across shards by hashing the key.
// Three algorithms are supported, selectable via Options.HashAlgorithm.
package quire

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Hash algorithm constants.
const (
	AlgXXHash3 = 1 // Default, fastest
	AlgFNV1a   = 2 // No external dependencies
	AlgBlake2b = 3 // Best distribution
)

// hashBytes produces a 64-bit hash of raw key bytes.
func hashBytes(b []byte, alg int) uint64 {
	switch alg {
	case AlgXXHash3:
		return xxh3.Hash(b)
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(b)
		return h.Sum64()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		h.Write(b)
		return binary.BigEndian.Uint64(h.Sum(nil))
	default:
		return 0
	}
}

// keyBytes renders an ordered key to bytes for hashing. Strings hash
// directly; fixed-width numerics use their binary form to avoid the
// allocation of a formatted string on every map access.
func keyBytes[K cmp.Ordered](key K) []byte {
	switch k := any(key).(type) {
	case string:
		return []byte(k)
	case int:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(k))
		return b[:]
	case int8:
		return []byte{byte(k)}
	case int16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(k))
		return b[:]
	case int32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(k))
		return b[:]
	case int64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(k))
		return b[:]
	case uint:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(k))
		return b[:]
	case uint8:
		return []byte{k}
	case uint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], k)
		return b[:]
	case uint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], k)
		return b[:]
	case uint64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], k)
		return b[:]
	case uintptr:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(k))
		return b[:]
	case float32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(k))
		return b[:]
	case float64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(k))
		return b[:]
	default:
		return fmt.Append(nil, key)
	}
}

// shardFunc adapts the configured algorithm to the 32-bit sharding
// signature the concurrent map expects.
func shardFunc[K cmp.Ordered](alg int) func(K) uint32 {
	return func(key K) uint32 {
		h := hashBytes(keyBytes(key), alg)
		return uint32(h ^ (h >> 32))
	}
}
