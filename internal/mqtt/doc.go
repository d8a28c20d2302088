// Package mqtt is the node's transport to the telemetry broker, built on
// Eclipse Paho v2's low-level [paho] client.
//
// The transport splits connectivity into two levels so the connectivity
// controller can tell them apart: the link is the TCP (or TLS, for
// mqtts:// and ssl:// brokers) connection, and the session is the MQTT
// CONNECT/CONNACK handshake on top of it. Neither level reconnects on
// its own; the controller decides when to retry, once per cycle.
//
// Sends are QoS 1 publishes bounded by the configured publish timeout.
// A failed or timed-out send reports false and never panics.
package mqtt
