// Package resource arbitrates the process-wide budgets shared by indexing and
// background work: bytes of buffered documents and cached blocks, concurrent
// merge slots, and merge write throughput.
//
// A nil *Controller is valid and imposes no limits.
package resource
