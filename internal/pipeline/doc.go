// Package pipeline runs the capture, encode, merge, cleanup, and upload
// stages in order and decides where to resume from the working directory.
//
// No journal is kept. A finished final video means only the upload is left;
// a finished chunk segment means capture is closed; otherwise capture
// continues numbering after the frames already on disk. A confirmed upload
// leaves a receipt beside the final video until its cleanup has finished, so
// a run interrupted there only retries the cleanup. Each stage leaves
// nothing that looks complete until it is, so re-running after a crash at
// any point converges on the same result without repeating finished work.
//
// Runs are serialised per working directory with an advisory lock. A run
// that finds the lock held returns OutcomeLocked without touching anything.
package pipeline
