// Package logging builds the slog loggers camlapse writes with.
//
// Output goes to the console (a compact human format or JSON) and, when
// configured, to a log file. WithContext tags a logger with the run scope
// carried on a context, so stage code gets run_id, mode, and stage fields
// without passing them around. WarnWithContext and ErrorWithContext make sure
// every warning and failure carries an event type and an operator hint.
// ProgressSampler keeps upload and capture progress to one line per bucket.
package logging
