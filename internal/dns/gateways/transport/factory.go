package transport

import (
	"crypto/tls"
	"fmt"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
)

// NewTransport creates a new transport instance based on the specified type.
// This factory keeps the supervisor independent of concrete transports and
// allows additional protocols (e.g. DoQ) to slot in later.
func NewTransport(transportType TransportType, addr string, tlsConfig *tls.Config, codec wire.Codec, logger log.Logger) (ServerTransport, error) {
	switch transportType {
	case TransportDoH:
		return NewDoHTransport(addr, tlsConfig, codec, logger), nil

	case TransportDoT:
		return NewDoTTransport(addr, tlsConfig, codec, logger), nil

	default:
		// Plain UDP/TCP is deliberately absent: this server is the
		// encrypted front end only.
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}
