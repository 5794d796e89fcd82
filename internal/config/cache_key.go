package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// DocumentSlotKey returns the Redis key holding one collection's document slot.
func (r *CacheKeyStruct) DocumentSlotKey(collection string) string {
	return fmt.Sprintf("exot:doc:%s", collection)
}

// DocumentChangesChannel returns the PubSub channel announcing slot writes.
func (r *CacheKeyStruct) DocumentChangesChannel(collection string) string {
	return fmt.Sprintf("exot:doc:%s:changes", collection)
}

// SyncSignalChannel is the PubSub channel the authority publishes on after a
// committed push. Every server instance relays it to websocket subscribers.
func (r *CacheKeyStruct) SyncSignalChannel() string {
	return "exot:sync:signals"
}

// TabBroadcastChannel is the same-device peer channel.
func (r *CacheKeyStruct) TabBroadcastChannel() string {
	return "exot_sync_channel"
}

// LocalTimestampKey returns the local cache key for a collection's write time.
func (r *CacheKeyStruct) LocalTimestampKey(collection string) string {
	return fmt.Sprintf("%s_timestamp", collection)
}

var CacheKey = NewCacheKeyStruct()
