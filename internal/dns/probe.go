package dns

import (
	"context"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// Probe queries one recursive resolver directly, bypassing the host's stub
// resolver and its cache.
type Probe struct {
	server string
	client *mdns.Client
}

// NewProbe returns a Probe for server ("host:port"). A zero timeout uses 5s.
func NewProbe(server string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Probe{server: server, client: &mdns.Client{Net: "udp", Timeout: timeout}}
}

// LookupTXT returns every TXT string published at host. A name with no TXT
// data yields an empty slice and no error.
func (p *Probe) LookupTXT(ctx context.Context, host string) ([]string, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(host), mdns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := p.client.ExchangeContext(ctx, msg, p.server)
	if err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", p.server, host, err)
	}
	if resp.Truncated {
		tcp := &mdns.Client{Net: "tcp", Timeout: p.client.Timeout}
		if resp, _, err = tcp.ExchangeContext(ctx, msg, p.server); err != nil {
			return nil, fmt.Errorf("query %s over tcp for %s: %w", p.server, host, err)
		}
	}

	switch resp.Rcode {
	case mdns.RcodeSuccess, mdns.RcodeNameError:
	default:
		return nil, fmt.Errorf("query %s for %s: %s", p.server, host, mdns.RcodeToString[resp.Rcode])
	}

	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

// Visible reports whether value is currently published at host.
func (p *Probe) Visible(ctx context.Context, host, value string) (bool, error) {
	txts, err := p.LookupTXT(ctx, host)
	if err != nil {
		return false, err
	}
	for _, t := range txts {
		if t == value {
			return true, nil
		}
	}
	return false, nil
}
