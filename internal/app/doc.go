// Package app contains the traffic applications that exercise the load
// balancer: a latency-measuring client that sends framed requests at a
// fixed interval, and a backend server that echoes request headers after a
// configurable processing delay.
package app
