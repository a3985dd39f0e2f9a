// Package frames owns the on-disk layout of captured snapshots: fixed-width
// zero-padded file names so that filename order is capture order, the next
// sequence number for a restarted capture loop, and bulk deletion once the
// frames are no longer needed.
package frames
