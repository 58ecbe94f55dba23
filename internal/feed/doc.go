// Package feed implements the upstream market-data client.
//
// The feed client:
//   - Holds exactly one provider connection at a time, reconnecting with
//     capped exponential backoff plus jitter (retries forever; only an
//     explicit Shutdown stops it)
//   - Normalizes opaque provider payloads into model.Tick and pushes them
//     into the fan-out hub
//   - Forces a reconnect when no frame (data or keepalive) arrives within
//     the heartbeat timeout
package feed
