// Package watchdog supervises the broker connection.
//
// Each Tick checks the broker client. While it is down the watchdog
// reconnects with exponential backoff (2s, 4s, ... capped at 300s), raises a
// single system alert once the outage passes a threshold and keeps that
// alert's metadata current. When the broker comes back the alert is resolved
// and a recovery notification goes out.
//
// After MaxAttempts consecutive attempts the watchdog only logs until the
// cooldown has passed, then starts a fresh round. It never gives up.
//
// The outage alert id is mirrored to the KV store so a restarted process
// keeps updating the same alert instead of opening a second one.
package watchdog
