// Package wire defines the framed request/response protocol spoken between
// clients, the load balancer and backend servers.
//
// Every message is a fixed 24-byte header followed by an opaque payload of
// exactly PayloadSize bytes. All header fields are big-endian. A response
// carries the same header as its request, typically with PayloadSize zero.
package wire
