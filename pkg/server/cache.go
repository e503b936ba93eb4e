package server

import (
	"sync"
	"time"
)

// cacheWindow is how long a reply stays eligible for duplicate suppression
const cacheWindow = time.Second

// replyCache suppresses re-execution of an immediately repeated identical
// request. Some clients resend a request when a reply got lost on the wire;
// replaying the stored reply keeps non-idempotent operations like start from
// silently running twice. A single slot shared by all connections, keyed on
// the exact bytes of the request line.
type replyCache struct {
	mu      sync.Mutex
	request string
	reply   string
	at      time.Time
}

// lookup returns the cached reply if raw matches the cached request within
// the window. A hit invalidates the slot, so exactly one duplicate is ever
// suppressed; a third identical request executes fresh.
func (c *replyCache) lookup(raw string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.at) > cacheWindow {
		return "", false
	}
	if raw != c.request {
		return "", false
	}
	c.at = time.Time{}
	return c.reply, true
}

// begin records the request about to be dispatched and invalidates the slot,
// so a duplicate racing the first dispatch can never replay an earlier
// command's reply
func (c *replyCache) begin(raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.request = raw
	c.reply = ""
	c.at = time.Time{}
}

// record stores a produced reply line against the pending request
func (c *replyCache) record(reply string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = reply
	c.at = now
}
