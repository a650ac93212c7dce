package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

// CacheKey is where the last imported edge list is kept.
const CacheKey = "topology"

const snapshotVersion = 1

// Cache is the part of the TTL cache a snapshot needs.
type Cache interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	Get(ctx context.Context, key string) ([]byte, bool)
}

type snapshot struct {
	Version    int                  `cbor:"1,keyasint"`
	ImportedAt int64                `cbor:"2,keyasint"`
	Edges      []model.TopologyEdge `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("topology: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("topology: CBOR decoder initialization failed: " + err.Error())
	}
}

// Save stores edges in the cache; an empty list is stored too so a
// cleared topology stays cleared across restarts.
func Save(ctx context.Context, c Cache, edges []model.TopologyEdge, ttl time.Duration, now time.Time) error {
	data, err := encMode.Marshal(snapshot{
		Version:    snapshotVersion,
		ImportedAt: now.UTC().Unix(),
		Edges:      edges,
	})
	if err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	c.Put(ctx, CacheKey, data, ttl)
	return nil
}

// Load returns the cached edge list. ok is false on a miss or a snapshot
// this build cannot read.
func Load(ctx context.Context, c Cache) (edges []model.TopologyEdge, importedAt time.Time, ok bool) {
	data, hit := c.Get(ctx, CacheKey)
	if !hit {
		return nil, time.Time{}, false
	}
	var snap snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil || snap.Version != snapshotVersion {
		return nil, time.Time{}, false
	}
	return snap.Edges, time.Unix(snap.ImportedAt, 0).UTC(), true
}
