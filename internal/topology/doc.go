// Package topology wires a complete simulation scenario: the event loop
// and network, the load balancer with its selection strategy, the backend
// servers with their processing delays, and the traffic clients. It drives
// the run to the configured stop time and collects the results.
package topology
