// Package supervisor owns the lifecycle of the DoH and DoT listeners. Each
// listener starts independently: absent certificate material skips that
// listener with a warning, and one listener's bind failure never prevents
// the other from being attempted.
package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/certs"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/transport"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
)

// ListenerConfig describes one encrypted listener.
type ListenerConfig struct {
	Enabled  bool
	Port     int
	CertFile string
	KeyFile  string
}

// Config is the supervisor's startup configuration, snapshotted at Start
// time. Toggling settings afterwards requires Stop then Start.
type Config struct {
	DoH ListenerConfig
	DoT ListenerConfig
}

// EndpointStatus reports one listener's liveness.
type EndpointStatus struct {
	Running bool `json:"running"`
	Port    int  `json:"port"`
}

// Status is the service status snapshot, computed on demand from actual
// listener liveness.
type Status struct {
	DoH EndpointStatus `json:"doh"`
	DoT EndpointStatus `json:"dot"`
}

// transportFactory matches transport.NewTransport; overridable in tests.
type transportFactory func(t transport.TransportType, addr string, tlsConfig *tls.Config, codec wire.Codec, logger log.Logger) (transport.ServerTransport, error)

// Supervisor starts, stops, and reports on the two encrypted listeners.
type Supervisor struct {
	certs        certs.Provider
	codec        wire.Codec
	handler      transport.DNSResponder
	logger       log.Logger
	newTransport transportFactory

	mu  sync.Mutex
	doh transport.ServerTransport
	dot transport.ServerTransport
	cfg Config
}

// Options carries the dependencies for New.
type Options struct {
	Certs   certs.Provider
	Codec   wire.Codec
	Handler transport.DNSResponder
	Logger  log.Logger
}

// New constructs a Supervisor from its options.
func New(opts Options) *Supervisor {
	return &Supervisor{
		certs:        opts.Certs,
		codec:        opts.Codec,
		handler:      opts.Handler,
		logger:       opts.Logger,
		newTransport: transport.NewTransport,
	}
}

// Start attempts to bring up each enabled listener. Both listeners are always
// attempted; per-listener failures are joined into the returned error.
func (s *Supervisor) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg

	var errs []error
	if cfg.DoH.Enabled {
		t, err := s.startListener(ctx, transport.TransportDoH, cfg.DoH)
		if err != nil {
			errs = append(errs, fmt.Errorf("doh: %w", err))
		}
		s.doh = t
	}
	if cfg.DoT.Enabled {
		t, err := s.startListener(ctx, transport.TransportDoT, cfg.DoT)
		if err != nil {
			errs = append(errs, fmt.Errorf("dot: %w", err))
		}
		s.dot = t
	}

	return errors.Join(errs...)
}

// startListener starts a single listener. A nil transport with nil error
// means the listener was skipped for lack of certificate material.
func (s *Supervisor) startListener(ctx context.Context, transportType transport.TransportType, cfg ListenerConfig) (transport.ServerTransport, error) {
	cert, ok, err := s.certs.Load(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("certificate material: %w", err)
	}
	if !ok {
		s.logger.Warn(map[string]any{
			"transport": string(transportType),
			"cert_file": cfg.CertFile,
			"key_file":  cfg.KeyFile,
		}, "Certificate material absent, listener not started")
		return nil, nil
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	t, err := s.newTransport(transportType, addr, tlsConfig, s.codec, s.logger)
	if err != nil {
		return nil, err
	}
	if err := t.Start(ctx, s.handler); err != nil {
		return nil, err
	}
	return t, nil
}

// Stop closes any running listeners. It is idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.doh != nil {
		if err := s.doh.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("doh: %w", err))
		}
		s.doh = nil
	}
	if s.dot != nil {
		if err := s.dot.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("dot: %w", err))
		}
		s.dot = nil
	}

	return errors.Join(errs...)
}

// Status reports actual listener liveness, not configuration intent.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status Status
	status.DoH.Port = s.cfg.DoH.Port
	status.DoT.Port = s.cfg.DoT.Port
	if s.doh != nil {
		status.DoH.Running = s.doh.Running()
	}
	if s.dot != nil {
		status.DoT.Running = s.dot.Running()
	}
	return status
}
