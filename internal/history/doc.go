// Package history records pipeline run outcomes in SQLite.
//
// The ledger exists for operators (the status command) and is never consulted
// when deciding where a run resumes; that decision is made from the working
// directory alone.
package history
