// Package snapshot fetches single still images from a network camera over
// HTTP with a per-attempt timeout and a fixed backoff between attempts.
package snapshot
