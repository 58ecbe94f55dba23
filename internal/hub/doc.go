// Package hub fans normalized ticks out to subscribed client connections.
//
// It owns the subscription registry (symbol → connections and connection →
// symbols, kept mutually consistent under one lock), the last-known-price
// cache, and one bounded outbound queue per connection. Enqueueing never
// blocks the dispatch path: on overflow the oldest queued event for that
// connection is dropped and counted.
package hub
