package sharding

import "errors"

var (
	// ErrEmptyShardKey indicates a shard key pattern with no fields.
	ErrEmptyShardKey = errors.New("shard key must have at least one field")
	// ErrMissingShardKeyField indicates a document lacking a shard key field.
	ErrMissingShardKeyField = errors.New("document missing shard key field")
	// ErrNoChunkForKey indicates a key value no chunk covers.
	ErrNoChunkForKey = errors.New("no chunk covers shard key value")
	// ErrShardNotFound indicates an unknown shard identifier.
	ErrShardNotFound = errors.New("shard not found")
	// ErrDuplicateShard indicates registering a shard identifier twice.
	ErrDuplicateShard = errors.New("shard already registered")
	// ErrChunkNotFound indicates an unknown chunk identifier.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrChunkOverlap indicates a chunk whose range overlaps an existing one.
	ErrChunkOverlap = errors.New("chunk range overlaps existing chunk")
	// ErrNoShards indicates routing with no shards registered.
	ErrNoShards = errors.New("no shards registered")
)
