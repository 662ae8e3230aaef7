// Package cache provides block caches for immutable index data.
//
// LRUBlockCache and ShardedLRUBlockCache keep blocks in process memory and
// account for them through resource.Controller. RedisBlockCache shares blocks
// between processes reading the same remote store.
package cache
