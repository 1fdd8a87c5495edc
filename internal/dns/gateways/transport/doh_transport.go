package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
)

const (
	// dohPath is the well-known DoH endpoint path (RFC 8484).
	dohPath = "/dns-query"

	// dohContentType is the media type for binary DNS messages over HTTP.
	dohContentType = "application/dns-message"

	// maxDoHRequestBytes caps a POST body at the largest message the DNS
	// length field can describe.
	maxDoHRequestBytes = 1 << 16
)

// DoHTransport implements ServerTransport for DNS over HTTPS (RFC 8484).
// Each HTTP request is handled independently; request bodies are fully
// buffered before decoding begins.
type DoHTransport struct {
	addr      string
	tlsConfig *tls.Config
	server    *http.Server
	listener  net.Listener
	codec     wire.Codec
	logger    log.Logger

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
}

// NewDoHTransport creates a new DoH transport instance.
func NewDoHTransport(addr string, tlsConfig *tls.Config, codec wire.Codec, logger log.Logger) *DoHTransport {
	return &DoHTransport{
		addr:      addr,
		tlsConfig: tlsConfig,
		codec:     codec,
		logger:    logger,
	}
}

// Start begins serving HTTPS requests on the configured address.
func (t *DoHTransport) Start(ctx context.Context, handler DNSResponder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("DoH transport already running")
	}

	mux := http.NewServeMux()
	mux.Handle(dohPath, t.queryHandler(ctx, handler))

	server := &http.Server{
		Addr:              t.addr,
		Handler:           mux,
		TLSConfig:         t.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Browser DoH clients negotiate h2; configure it explicitly since we
	// serve on our own TLS listener.
	if err := http2.ConfigureServer(server, &http2.Server{}); err != nil {
		return fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	rawListener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTPS listener on %s: %w", t.addr, err)
	}

	t.server = server
	t.listener = tls.NewListener(rawListener, server.TLSConfig)
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "doh",
		"address":   t.addr,
		"path":      dohPath,
	}, "DNS transport started")

	go func() {
		if err := server.Serve(t.listener); err != nil && err != http.ErrServerClosed {
			t.logger.Error(map[string]any{
				"error": err.Error(),
			}, "DoH server terminated")
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
		}
	}()

	return nil
}

// Stop gracefully shuts down the DoH transport.
func (t *DoHTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	var closeErr error
	if t.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeErr = t.server.Shutdown(shutdownCtx)
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error shutting down DoH server")
		}
	}

	t.running = false

	t.logger.Info(map[string]any{
		"transport": "doh",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the network address the transport is bound to.
func (t *DoHTransport) Address() string {
	return t.addr
}

// Running reports whether the transport currently holds a live listener.
func (t *DoHTransport) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// queryHandler builds the http.Handler for the /dns-query endpoint. Exposed
// through Start only; tests exercise it via the exported Handler method.
func (t *DoHTransport) queryHandler(ctx context.Context, handler DNSResponder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw []byte
		var err error

		switch r.Method {
		case http.MethodGet:
			param := r.URL.Query().Get("dns")
			if param == "" {
				http.Error(w, "missing dns query parameter", http.StatusBadRequest)
				return
			}
			raw, err = base64.RawURLEncoding.DecodeString(param)
			if err != nil {
				http.Error(w, "invalid dns query parameter", http.StatusBadRequest)
				return
			}
		case http.MethodPost:
			raw, err = io.ReadAll(io.LimitReader(r.Body, maxDoHRequestBytes))
			if err != nil {
				t.logger.Warn(map[string]any{
					"client": r.RemoteAddr,
					"error":  err.Error(),
				}, "Failed to read DoH request body")
				http.Error(w, "failed to read request body", http.StatusInternalServerError)
				return
			}
		default:
			http.NotFound(w, r)
			return
		}

		t.writeResponse(ctx, w, r, raw, handler)
	})
}

// writeResponse runs the decode/resolve/encode pipeline and frames the result
// as an HTTP response. Protocol-level failures still produce a valid DNS
// message with an error rcode; HTTP 500 is reserved for internal failures
// where no DNS payload can be produced.
func (t *DoHTransport) writeResponse(ctx context.Context, w http.ResponseWriter, r *http.Request, raw []byte, handler DNSResponder) {
	var response domain.Message

	query, err := t.codec.DecodeMessage(raw)
	if err != nil {
		t.logger.Warn(map[string]any{
			"client": r.RemoteAddr,
			"size":   len(raw),
			"error":  err.Error(),
		}, "Failed to decode DoH query")
		response = domain.NewServFail(wire.TransactionID(raw))
	} else {
		response = handler.HandleQuery(ctx, query, remoteAddr(r))
	}

	data, err := t.codec.EncodeMessage(response)
	if err != nil {
		t.logger.Error(map[string]any{
			"client": r.RemoteAddr,
			"error":  err.Error(),
		}, "Failed to encode DoH response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", dohContentType)
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		t.logger.Warn(map[string]any{
			"client": r.RemoteAddr,
			"error":  err.Error(),
		}, "Failed to write DoH response")
		return
	}

	t.logger.Debug(map[string]any{
		"client":   r.RemoteAddr,
		"query_id": response.ID,
		"rcode":    response.RCode.String(),
		"answers":  len(response.Answers),
		"size":     len(data),
	}, "Sent DoH response")
}

// Handler exposes the /dns-query handler for in-process testing without a TLS
// listener.
func (t *DoHTransport) Handler(ctx context.Context, handler DNSResponder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(dohPath, t.queryHandler(ctx, handler))
	return mux
}

// remoteAddr converts the HTTP request's remote address into a net.Addr for
// the service layer.
func remoteAddr(r *http.Request) net.Addr {
	if tcp, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
		return tcp
	}
	return &net.TCPAddr{}
}

var _ ServerTransport = &DoHTransport{}
