package cache

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// keyDomain separates cache keys from any other BLAKE3 use in the process.
var keyDomain = blake3.Sum256([]byte("vintel cache key v1"))

// Key builds a namespaced, content-addressed cache key from the given
// parts. Parts are length-prefixed before hashing so ("ab","c") and
// ("a","bc") never collide.
func Key(namespace string, parts ...string) string {
	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var prefix [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(prefix[:], uint64(len(p)))
		hasher.Write(prefix[:n])
		hasher.Write([]byte(p))
	}
	return namespace + ":" + hex.EncodeToString(hasher.Sum(nil))
}
