// Package retry runs read-modify-write operations against optimistically versioned state.
//
// Only errors classified as conflicts by the executor's ConflictFunc are retried; every
// other error, and context cancellation, ends the loop at once. Waits grow as
// InitialDelay*2^n capped at MaxDelay, with symmetric jitter of JitterFraction applied to
// each wait.
package retry
