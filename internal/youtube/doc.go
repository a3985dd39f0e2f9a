// Package youtube uploads finished videos to YouTube.
//
// Authenticator owns the OAuth2 credential lifecycle: it loads the stored
// token, refreshes it silently when expired, and falls back to an interactive
// code exchange through a pluggable CodePrompter when no usable credential
// exists. Refreshed tokens are written back to the token file.
//
// Uploader drives the YouTube Data API resumable upload protocol directly so
// that chunk size, per-chunk retries, and progress reporting stay under our
// control. Sessions live only in memory: a process restart opens a new
// session against the same file.
package youtube
