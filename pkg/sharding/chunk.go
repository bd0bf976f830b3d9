package sharding

import (
	"fmt"
	"sync"

	"github.com/corvusdb/corvus/pkg/document"
)

// Chunk is a contiguous shard key range [Min, Max) owned by one shard.
// A nil Min or Max leaves that side of the range unbounded.
type Chunk struct {
	ID    string
	Shard ShardID
	Min   []document.Value
	Max   []document.Value

	docCount  int64
	sizeBytes int64
}

// NewChunk creates a chunk covering [min, max) on the given shard.
func NewChunk(id string, shard ShardID, min, max []document.Value) *Chunk {
	return &Chunk{ID: id, Shard: shard, Min: min, Max: max}
}

// Contains reports whether a shard key value falls inside the chunk range.
func (c *Chunk) Contains(kp *KeyPattern, values []document.Value) bool {
	if c.Min != nil && kp.Compare(values, c.Min) < 0 {
		return false
	}
	if c.Max != nil && kp.Compare(values, c.Max) >= 0 {
		return false
	}
	return true
}

// UpdateStats records the chunk's document count and byte size.
func (c *Chunk) UpdateStats(docCount, sizeBytes int64) {
	c.docCount = docCount
	c.sizeBytes = sizeBytes
}

// DocCount returns the last recorded document count.
func (c *Chunk) DocCount() int64 { return c.docCount }

// SizeBytes returns the last recorded byte size.
func (c *Chunk) SizeBytes() int64 { return c.sizeBytes }

// ChunkManager tracks the chunk ranges of one range-sharded collection.
type ChunkManager struct {
	mu      sync.RWMutex
	pattern *KeyPattern
	chunks  []*Chunk
	nextID  int
}

// NewChunkManager creates an empty chunk manager for a key pattern.
func NewChunkManager(pattern *KeyPattern) *ChunkManager {
	return &ChunkManager{pattern: pattern}
}

// AddChunk registers a chunk, rejecting ranges that overlap existing ones.
func (cm *ChunkManager) AddChunk(chunk *Chunk) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, existing := range cm.chunks {
		if cm.overlap(existing, chunk) {
			return fmt.Errorf("%w: %s and %s", ErrChunkOverlap, existing.ID, chunk.ID)
		}
	}
	cm.chunks = append(cm.chunks, chunk)
	return nil
}

// CreateChunk allocates a chunk ID, registers the range, and returns it.
func (cm *ChunkManager) CreateChunk(shard ShardID, min, max []document.Value) (*Chunk, error) {
	cm.mu.Lock()
	id := fmt.Sprintf("chunk-%d", cm.nextID)
	cm.nextID++
	cm.mu.Unlock()

	chunk := NewChunk(id, shard, min, max)
	if err := cm.AddChunk(chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// FindChunk returns the chunk covering a shard key value, or nil.
func (cm *ChunkManager) FindChunk(values []document.Value) *Chunk {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, chunk := range cm.chunks {
		if chunk.Contains(cm.pattern, values) {
			return chunk
		}
	}
	return nil
}

// SplitChunk splits a chunk at the given key: the original keeps
// [Min, splitKey) and a new chunk takes [splitKey, Max).
func (cm *ChunkManager) SplitChunk(chunkID string, splitKey []document.Value) (*Chunk, *Chunk, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var chunk *Chunk
	for _, c := range cm.chunks {
		if c.ID == chunkID {
			chunk = c
			break
		}
	}
	if chunk == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	if !chunk.Contains(cm.pattern, splitKey) {
		return nil, nil, fmt.Errorf("split key outside chunk %s", chunkID)
	}
	if chunk.Min != nil && cm.pattern.Compare(splitKey, chunk.Min) == 0 {
		return nil, nil, fmt.Errorf("split key equals chunk %s lower bound", chunkID)
	}

	right := NewChunk(fmt.Sprintf("chunk-%d", cm.nextID), chunk.Shard, splitKey, chunk.Max)
	cm.nextID++
	chunk.Max = splitKey
	cm.chunks = append(cm.chunks, right)
	return chunk, right, nil
}

// MoveChunk reassigns a chunk to another shard.
func (cm *ChunkManager) MoveChunk(chunkID string, target ShardID) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, chunk := range cm.chunks {
		if chunk.ID == chunkID {
			chunk.Shard = target
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
}

// ChunksForShard returns the chunks currently owned by a shard.
func (cm *ChunkManager) ChunksForShard(shard ShardID) []*Chunk {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []*Chunk
	for _, chunk := range cm.chunks {
		if chunk.Shard == shard {
			out = append(out, chunk)
		}
	}
	return out
}

// AllChunks returns a snapshot of every chunk.
func (cm *ChunkManager) AllChunks() []*Chunk {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]*Chunk(nil), cm.chunks...)
}

func (cm *ChunkManager) overlap(a, b *Chunk) bool {
	// Ranges are half-open, so they overlap unless one ends at or before
	// the other's start. A nil bound extends to infinity on that side.
	aEndsBeforeB := a.Max != nil && b.Min != nil && cm.pattern.Compare(a.Max, b.Min) <= 0
	bEndsBeforeA := b.Max != nil && a.Min != nil && cm.pattern.Compare(b.Max, a.Min) <= 0
	return !aEndsBeforeB && !bEndsBeforeA
}
