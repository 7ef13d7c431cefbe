// Package strategy defines the backend-selection interface used by the
// proxy core and implements the selection algorithms:
//
//   - Weighted Round Robin: Nginx-style smooth weighted rotation
//   - Least Request: power-of-two-choices, or dynamic weighted picking when weights differ
//   - Random: uniform selection, weights ignored
//   - Ring Hash: Ketama-style consistent hashing over virtual nodes
//   - Maglev: permutation-based lookup table with minimal disruption
//   - Peak EWMA: power-of-two-choices on a peak-sensitive decaying latency score
//
// Strategies share the backend registry with the proxy and receive request
// lifecycle notifications (sent, finished, observed latency) to keep their
// internal state current.
package strategy
