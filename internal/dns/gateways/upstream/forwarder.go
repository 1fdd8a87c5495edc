package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/common/rrdata"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/resolver"
)

// Forwarder resolves questions by forwarding them to configured upstream DNS
// servers, trying each in order until one answers.
type Forwarder struct {
	client  *mdns.Client
	servers []string
	logger  log.Logger
}

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	// Servers is the ordered list of upstream servers in ip:port format.
	Servers []string

	// Timeout bounds a single upstream exchange.
	Timeout time.Duration

	Logger log.Logger
}

// NewForwarder constructs a Forwarder from its options.
func NewForwarder(opts ForwarderOptions) (*Forwarder, error) {
	if len(opts.Servers) == 0 {
		return nil, fmt.Errorf("at least one upstream server is required")
	}
	return &Forwarder{
		client: &mdns.Client{
			Net:     "udp",
			Timeout: opts.Timeout,
		},
		servers: opts.Servers,
		logger:  opts.Logger,
	}, nil
}

// Resolve forwards the question upstream and converts the reply into domain
// records. NXDOMAIN from upstream maps to domain.ErrNameNotFound; any other
// non-success rcode is a back-end failure.
func (f *Forwarder) Resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(q.Name), uint16(q.Type))

	var lastErr error
	for _, server := range f.servers {
		in, rtt, err := f.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			f.logger.Warn(map[string]any{
				"server": server,
				"name":   q.Name,
				"error":  err.Error(),
			}, "Upstream exchange failed")
			lastErr = err
			continue
		}

		f.logger.Debug(map[string]any{
			"server":  server,
			"name":    q.Name,
			"type":    q.Type.String(),
			"rcode":   in.Rcode,
			"answers": len(in.Answer),
			"rtt_ms":  rtt.Milliseconds(),
		}, "Upstream exchange completed")

		switch in.Rcode {
		case mdns.RcodeSuccess:
			return convertAnswers(in.Answer)
		case mdns.RcodeNameError:
			return nil, domain.ErrNameNotFound
		default:
			return nil, fmt.Errorf("upstream %s returned rcode %d", server, in.Rcode)
		}
	}

	return nil, fmt.Errorf("all upstream servers failed: %w", lastErr)
}

// convertAnswers maps miekg answer records onto domain records, skipping
// types this server does not answer.
func convertAnswers(answers []mdns.RR) ([]domain.ResourceRecord, error) {
	var records []domain.ResourceRecord
	for _, ans := range answers {
		var text string
		switch rr := ans.(type) {
		case *mdns.A:
			text = rr.A.String()
		case *mdns.AAAA:
			text = rr.AAAA.String()
		case *mdns.CNAME:
			text = strings.TrimSuffix(rr.Target, ".")
		case *mdns.MX:
			text = fmt.Sprintf("%d %s", rr.Preference, strings.TrimSuffix(rr.Mx, "."))
		case *mdns.TXT:
			text = strings.Join(rr.Txt, "; ")
		default:
			continue
		}

		header := ans.Header()
		rrType := domain.RRType(header.Rrtype)
		data, err := rrdata.Encode(rrType, text)
		if err != nil {
			return nil, fmt.Errorf("encoding upstream %s answer: %w", rrType, err)
		}
		record, err := domain.NewResourceRecord(header.Name, rrType, domain.RRClass(header.Class), header.Ttl, data, text)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream answer: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

var _ resolver.Backend = &Forwarder{}
