package sharding

import (
	"errors"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
)

func key(i int64) []document.Value {
	return []document.Value{document.Int64(i)}
}

func newChunkManager(t *testing.T) *ChunkManager {
	t.Helper()
	kp, err := RangeKey("user_id")
	if err != nil {
		t.Fatalf("Failed to build key pattern: %v", err)
	}
	return NewChunkManager(kp)
}

func TestChunkContains(t *testing.T) {
	kp, err := RangeKey("user_id")
	if err != nil {
		t.Fatalf("Failed to build key pattern: %v", err)
	}

	chunk := NewChunk("chunk-0", "shard-a", key(10), key(20))

	if !chunk.Contains(kp, key(10)) {
		t.Error("Expected lower bound to be inclusive")
	}
	if !chunk.Contains(kp, key(15)) {
		t.Error("Expected interior value inside chunk")
	}
	if chunk.Contains(kp, key(20)) {
		t.Error("Expected upper bound to be exclusive")
	}
	if chunk.Contains(kp, key(9)) {
		t.Error("Expected value below range outside chunk")
	}
}

func TestChunkUnboundedRanges(t *testing.T) {
	kp, err := RangeKey("user_id")
	if err != nil {
		t.Fatalf("Failed to build key pattern: %v", err)
	}

	low := NewChunk("chunk-0", "shard-a", nil, key(0))
	high := NewChunk("chunk-1", "shard-b", key(0), nil)

	if !low.Contains(kp, key(-100)) {
		t.Error("Expected unbounded min to cover any low value")
	}
	if !high.Contains(kp, key(1<<40)) {
		t.Error("Expected unbounded max to cover any high value")
	}
	if low.Contains(kp, key(0)) {
		t.Error("Expected 0 to fall in the upper chunk only")
	}
}

func TestChunkManagerFindChunk(t *testing.T) {
	cm := newChunkManager(t)

	if _, err := cm.CreateChunk("shard-a", nil, key(100)); err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	if _, err := cm.CreateChunk("shard-b", key(100), nil); err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}

	chunk := cm.FindChunk(key(50))
	if chunk == nil || chunk.Shard != "shard-a" {
		t.Errorf("Expected key 50 on shard-a, got %v", chunk)
	}
	chunk = cm.FindChunk(key(100))
	if chunk == nil || chunk.Shard != "shard-b" {
		t.Errorf("Expected key 100 on shard-b, got %v", chunk)
	}
}

func TestChunkManagerRejectsOverlap(t *testing.T) {
	cm := newChunkManager(t)

	if _, err := cm.CreateChunk("shard-a", key(0), key(100)); err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}

	if _, err := cm.CreateChunk("shard-b", key(50), key(150)); !errors.Is(err, ErrChunkOverlap) {
		t.Errorf("Expected ErrChunkOverlap, got %v", err)
	}

	// Adjacent half-open ranges do not overlap.
	if _, err := cm.CreateChunk("shard-b", key(100), key(200)); err != nil {
		t.Errorf("Expected adjacent chunk to be accepted, got %v", err)
	}
}

func TestChunkManagerSplitChunk(t *testing.T) {
	cm := newChunkManager(t)

	chunk, err := cm.CreateChunk("shard-a", key(0), key(100))
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}

	left, right, err := cm.SplitChunk(chunk.ID, key(50))
	if err != nil {
		t.Fatalf("Failed to split chunk: %v", err)
	}

	kp := cm.pattern
	if kp.Compare(left.Max, key(50)) != 0 {
		t.Errorf("Expected left max 50, got %v", left.Max)
	}
	if kp.Compare(right.Min, key(50)) != 0 {
		t.Errorf("Expected right min 50, got %v", right.Min)
	}
	if right.Shard != "shard-a" {
		t.Errorf("Expected split chunk to stay on shard-a, got %s", right.Shard)
	}

	if found := cm.FindChunk(key(49)); found != left {
		t.Error("Expected key 49 in the left chunk")
	}
	if found := cm.FindChunk(key(50)); found != right {
		t.Error("Expected key 50 in the right chunk")
	}
}

func TestChunkManagerSplitErrors(t *testing.T) {
	cm := newChunkManager(t)

	chunk, err := cm.CreateChunk("shard-a", key(0), key(100))
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}

	if _, _, err := cm.SplitChunk("missing", key(50)); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Expected ErrChunkNotFound, got %v", err)
	}
	if _, _, err := cm.SplitChunk(chunk.ID, key(200)); err == nil {
		t.Error("Expected error splitting outside the chunk range")
	}
	if _, _, err := cm.SplitChunk(chunk.ID, key(0)); err == nil {
		t.Error("Expected error splitting at the lower bound")
	}
}

func TestChunkManagerMoveChunk(t *testing.T) {
	cm := newChunkManager(t)

	chunk, err := cm.CreateChunk("shard-a", key(0), key(100))
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}

	if err := cm.MoveChunk(chunk.ID, "shard-b"); err != nil {
		t.Fatalf("Failed to move chunk: %v", err)
	}
	if chunk.Shard != "shard-b" {
		t.Errorf("Expected chunk on shard-b, got %s", chunk.Shard)
	}

	if got := cm.ChunksForShard("shard-a"); len(got) != 0 {
		t.Errorf("Expected no chunks left on shard-a, got %d", len(got))
	}
	if got := cm.ChunksForShard("shard-b"); len(got) != 1 {
		t.Errorf("Expected 1 chunk on shard-b, got %d", len(got))
	}

	if err := cm.MoveChunk("missing", "shard-b"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Expected ErrChunkNotFound, got %v", err)
	}
}
