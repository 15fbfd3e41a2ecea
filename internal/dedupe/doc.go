// Package dedupe provides a TTL and size bounded cache keyed by idempotency key.
//
// The chat service stores the message created for a (sender, clientMessageId)
// pair so a retried send returns the original message instead of appending
// a duplicate:
//
//	cache := dedupe.New[*conversation.Message](5*time.Minute, 100_000)
//	defer cache.Close()
//
//	if msg, ok := cache.Get(key); ok {
//	    return msg, nil
//	}
//	msg := create()
//	cache.Put(key, msg)
//
// Entries expire after the TTL; when full, the oldest entry is evicted.
package dedupe
