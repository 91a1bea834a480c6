// Package dedupe suppresses repeated submissions of the same event.
//
// Agents on flaky links retry uploads; a Cache remembers (source, event id)
// pairs for a TTL so a retried event is fanned out to controllers only once.
package dedupe
