// Package notifications delivers run outcome alerts.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Notification
// failures are reported to the caller but never change a run's outcome.
package notifications
