// Package transport provides the encrypted network transports for the DNS
// front end. It converts between wire bytes and domain objects, so the
// service layer only ever sees domain types.
package transport

import (
	"context"
	"net"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// ServerTransport defines the interface for DNS server transport implementations.
// Different transport types (DoH, DoT) implement this interface while providing
// the same request handling contract to the service layer.
type ServerTransport interface {
	// Start begins listening for requests and handling them via the provided handler.
	// The transport handles all network protocol concerns and wire format conversion.
	Start(ctx context.Context, handler DNSResponder) error

	// Stop gracefully shuts down the transport, closing connections and cleaning up
	// resources. It is idempotent.
	Stop() error

	// Address returns the network address the transport is bound to.
	Address() string

	// Running reports whether the transport currently holds a live listener.
	Running() bool
}

// DNSResponder defines how the service layer receives and processes DNS requests.
// The transport layer converts wire format to domain objects before calling this
// interface, and converts the response back to wire format for transmission.
type DNSResponder interface {
	// HandleQuery processes a DNS query and returns a DNS response. Failures are
	// expressed through the response rcode, never by an error return, so a
	// client always gets an answer for a message that could be decoded.
	HandleQuery(ctx context.Context, query domain.Message, clientAddr net.Addr) domain.Message
}

// TransportType represents the different types of DNS transport protocols supported.
type TransportType string

const (
	// TransportDoH represents DNS over HTTPS (RFC 8484)
	TransportDoH TransportType = "doh"

	// TransportDoT represents DNS over TLS (RFC 7858)
	TransportDoT TransportType = "dot"
)
