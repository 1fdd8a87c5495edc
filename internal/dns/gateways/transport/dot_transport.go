package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
)

// DoTTransport implements ServerTransport for DNS over TLS (RFC 7858).
// Each accepted connection is handled by its own goroutine owning a private
// stream framer; there is no shared mutable state between connections.
type DoTTransport struct {
	addr      string
	tlsConfig *tls.Config
	listener  net.Listener
	codec     wire.Codec
	logger    log.Logger

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewDoTTransport creates a new DoT transport instance.
func NewDoTTransport(addr string, tlsConfig *tls.Config, codec wire.Codec, logger log.Logger) *DoTTransport {
	return &DoTTransport{
		addr:      addr,
		tlsConfig: tlsConfig,
		codec:     codec,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins accepting TLS connections on the configured address.
func (t *DoTTransport) Start(ctx context.Context, handler DNSResponder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("DoT transport already running")
	}

	listener, err := tls.Listen("tcp", t.addr, t.tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to bind TLS listener on %s: %w", t.addr, err)
	}

	t.listener = listener
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "dot",
		"address":   t.addr,
	}, "DNS transport started")

	go t.acceptLoop(ctx, handler)

	return nil
}

// Stop gracefully shuts down the DoT transport.
func (t *DoTTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	close(t.stopCh)

	var closeErr error
	if t.listener != nil {
		closeErr = t.listener.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error closing DoT listener")
		}
	}

	t.running = false

	t.logger.Info(map[string]any{
		"transport": "dot",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the network address the transport is bound to.
func (t *DoTTransport) Address() string {
	return t.addr
}

// Running reports whether the transport currently holds a live listener.
func (t *DoTTransport) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// acceptLoop accepts connections until the listener closes.
func (t *DoTTransport) acceptLoop(ctx context.Context, handler DNSResponder) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return // Normal shutdown
			case <-ctx.Done():
				return
			default:
			}

			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if !running {
				return
			}

			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "Failed to accept DoT connection")
			continue
		}

		go t.handleConn(ctx, conn, handler)
	}
}

// handleConn drives a single connection: append stream data to the private
// framer, extract complete messages, respond in arrival order. A per-message
// decode or resolution failure writes a framed SERVFAIL and keeps the
// connection open; transport-level failures close it, discarding the buffer.
func (t *DoTTransport) handleConn(ctx context.Context, conn net.Conn, handler DNSResponder) {
	defer conn.Close()

	client := conn.RemoteAddr()
	framer := newStreamFramer(maxBufferedBytes)
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			t.logger.Debug(map[string]any{
				"client": client.String(),
				"error":  err.Error(),
			}, "DoT connection closed")
			return
		}

		if err := framer.Append(buf[:n]); err != nil {
			t.logger.Warn(map[string]any{
				"client":   client.String(),
				"buffered": framer.Buffered(),
				"error":    err.Error(),
			}, "Closing DoT connection")
			return
		}

		for {
			payload, ok := framer.Next()
			if !ok {
				break
			}

			response := t.respond(ctx, payload, client, handler)
			if response == nil {
				continue
			}
			if _, err := conn.Write(frameMessage(response)); err != nil {
				t.logger.Warn(map[string]any{
					"client": client.String(),
					"error":  err.Error(),
				}, "Failed to write DoT response")
				return
			}
		}
	}
}

// respond decodes one framed payload, resolves it, and encodes the reply.
// Decode failures produce a SERVFAIL carrying whatever transaction id could
// be recovered from the raw header bytes.
func (t *DoTTransport) respond(ctx context.Context, payload []byte, client net.Addr, handler DNSResponder) []byte {
	query, err := t.codec.DecodeMessage(payload)
	if err != nil {
		t.logger.Warn(map[string]any{
			"client": client.String(),
			"size":   len(payload),
			"error":  err.Error(),
		}, "Failed to decode DoT query")
		return t.encodeServFail(wire.TransactionID(payload), client)
	}

	response := handler.HandleQuery(ctx, query, client)

	data, err := t.codec.EncodeMessage(response)
	if err != nil {
		t.logger.Error(map[string]any{
			"client":   client.String(),
			"query_id": query.ID,
			"error":    err.Error(),
		}, "Failed to encode DoT response")
		return t.encodeServFail(query.ID, client)
	}

	t.logger.Debug(map[string]any{
		"client":   client.String(),
		"query_id": response.ID,
		"rcode":    response.RCode.String(),
		"answers":  len(response.Answers),
	}, "Sent DoT response")

	return data
}

func (t *DoTTransport) encodeServFail(id uint16, client net.Addr) []byte {
	data, err := t.codec.EncodeMessage(domain.NewServFail(id))
	if err != nil {
		t.logger.Error(map[string]any{
			"client": client.String(),
			"error":  err.Error(),
		}, "Failed to encode SERVFAIL response")
		return nil
	}
	return data
}

var _ ServerTransport = &DoTTransport{}
