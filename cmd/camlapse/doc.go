// Package main hosts the camlapse CLI entrypoint and command graph.
//
// "camlapse run" performs one crash-safe pipeline invocation: resume check,
// capture, chunked encode, merge, cleanup and upload. It is meant to be
// started by cron or a systemd timer and re-run after any interruption.
// "camlapse capture" is the same run forced into tick mode. The remaining
// commands are operator tooling: auth (re)authorizes the upload account,
// status summarises on-disk progress and recent runs, doctor runs the
// preflight checks, and config scaffolds or validates the TOML file.
//
// Keep this package lean. Behaviour belongs in internal packages; the
// commands here only translate config into collaborators and render results.
package main
