// Package rabbitmq owns the broker side of the polako messaging client.
//
// This package includes:
//   - Connection: one AMQP connection and channel with a connect/consume/disconnect lifecycle
//   - Topology: the exchange, optional queue and optional binding declared on connect
//   - Config: host, credentials, virtual host and topology parameters
//
// The implementation favours explicit failure over hidden recovery:
//   - a failed Connect leaves the client Disconnected and returns the cause
//   - there is no background reconnect loop; Publish and StartConsuming connect lazily
//   - delivery dispatch is concurrent up to the prefetch count
//   - Disconnect stops dispatch before closing the channel
package rabbitmq
