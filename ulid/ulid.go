// Package ulid makes sortable ids for refresh cycles and snapshots.
package ulid

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	oklid "github.com/oklog/ulid/v2"
)

var monotonicPool = sync.Pool{
	New: func() any {
		var seed int64
		if err := binary.Read(cryptorand.Reader, binary.BigEndian, &seed); err != nil {
			// fall back to the clock; ids only need to be unique, not secret
			seed = time.Now().UnixNano()
		}

		rand := mathrand.New(mathrand.NewSource(seed))
		inc := uint64(rand.Int63n(1 << 32))

		return oklid.Monotonic(rand, inc)
	},
}

// MakeULID returns a new id with the timestamp t. Ids made for the same
// millisecond sort in the order they were made.
func MakeULID(t time.Time) (oklid.ULID, error) {
	mono := monotonicPool.Get().(*oklid.MonotonicEntropy)
	defer monotonicPool.Put(mono)

	id, err := oklid.New(oklid.Timestamp(t), mono)
	if err != nil {
		return oklid.ULID{}, fmt.Errorf("ulid: %w", err)
	}
	return id, nil
}
