// Package messaging provides a provider-based API for sending and receiving messages.
// A Manager routes each call to the Provider registered for the URL's scheme; a Provider
// combines the Producer (send) and Receiver (receive, listen) interfaces.
// The package itself ships only LocalProvider, an in-memory provider for the "chan"
// scheme built on buffered Go channels, which needs no messaging server.
// No AMQP or MQTT provider is included.
package messaging

import "github.com/trailcast/orchestrator/l3"

var logger = l3.Get()
