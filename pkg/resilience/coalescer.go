package resilience

import "golang.org/x/sync/singleflight"

// Coalescer de-dupes concurrent calls sharing a key down to one
// in-flight call, fanning its result out to every caller that arrived
// while it was running — spec.md §4.7's device-resource PUT and
// command-fetch coalescing.
//
// The teacher depends on golang.org/x/sync only indirectly (pulled in
// by another module, never imported by its own code); this is the one
// place in the rewrite that imports it directly, since
// singleflight.Group is exactly the "collapse concurrent identical
// work" primitive the teacher's own IdempotencyController approximated
// by hand with a map and a mutex.
type Coalescer struct {
	group singleflight.Group
}

// Do executes fn if no call for key is currently in flight, or waits
// for and returns the in-flight call's result otherwise.
func (c *Coalescer) Do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}
