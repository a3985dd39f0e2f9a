// Package preflight provides readiness checks for the binaries, paths, and
// services a pipeline run depends on.
//
// The CLI "camlapse doctor" command runs them all and renders the results as
// a table. Checks never modify anything; a failing check explains what is
// wrong rather than trying to fix it. Upload checks are skipped when upload
// is disabled.
package preflight
