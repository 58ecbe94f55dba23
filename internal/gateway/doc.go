// Package gateway owns the client-facing websocket connections.
//
// Each accepted socket gets one reader and one writer goroutine bound to the
// connection's lifetime. The reader applies subscribe/unsubscribe control
// frames to the hub; the writer drains the connection's bounded outbound
// queue. Connections never hold references into each other's state, so one
// failing or stalling client affects nobody else.
package gateway
