// Package proxy implements the Layer-7 TCP proxy core: it accepts client
// connections, reassembles framed requests, routes each request to a
// backend chosen by the configured strategy, relays responses back, and
// keeps the strategy's in-flight accounting and latency observations
// balanced through every close, error and connect-failure path.
package proxy
