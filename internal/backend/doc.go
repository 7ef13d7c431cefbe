// Package backend maintains the ordered registry of backend servers shared
// by the proxy core and every selection strategy: address, configured
// weight, and the count of requests currently in flight.
package backend
