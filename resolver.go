// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Resolver resolves a hostname into a single literal address of the
// requested family.
//
// Implementations run on AIO worker goroutines and therefore may block;
// they must not touch the [Socket] or the [Loop].
type Resolver interface {
	// LookupLiteral returns one literal address (e.g. "93.184.216.34"
	// or "2606:2800:220:1::1") for host, honoring the address family
	// implied by domain.
	LookupLiteral(ctx context.Context, domain Domain, host string) (string, error)
}

// NewSystemResolver returns a [Resolver] using [net.DefaultResolver].
func NewSystemResolver() Resolver {
	return &systemResolver{res: net.DefaultResolver}
}

// systemResolver implements [Resolver] on top of a [*net.Resolver].
type systemResolver struct {
	res *net.Resolver
}

var _ Resolver = &systemResolver{}

// LookupLiteral implements [Resolver].
func (r *systemResolver) LookupLiteral(ctx context.Context, domain Domain, host string) (string, error) {
	network := "ip4"
	if domain == DomainIPv6 {
		network = "ip6"
	}
	addrs, err := r.res.LookupNetIP(ctx, network, host)
	if err != nil {
		return "", err
	}
	if len(addrs) < 1 {
		return "", errors.New("no addresses returned")
	}
	return addrs[0].Unmap().String(), nil
}

// NewDNSServerResolver returns a [Resolver] that queries the given DNS
// server (an "address:port" endpoint) directly using [dns.Client].
//
// Use this resolver to bypass the system stub resolver, e.g. when the
// loop should depend on a specific recursive server.
func NewDNSServerResolver(server string) *DNSServerResolver {
	return &DNSServerResolver{
		Client: &dns.Client{},
		Server: server,
	}
}

// DNSServerResolver implements [Resolver] by exchanging A or AAAA
// queries with a configured server.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to LookupLiteral.
type DNSServerResolver struct {
	// Client is the [dns.Client] used for the exchange.
	//
	// Set by [NewDNSServerResolver] to a zero-value client (UDP).
	Client *dns.Client

	// Server is the "address:port" endpoint of the DNS server.
	//
	// Set by [NewDNSServerResolver] to the user-provided value.
	Server string
}

var _ Resolver = &DNSServerResolver{}

// LookupLiteral implements [Resolver].
func (r *DNSServerResolver) LookupLiteral(ctx context.Context, domain Domain, host string) (string, error) {
	qtype := dns.TypeA
	if domain == DomainIPv6 {
		qtype = dns.TypeAAAA
	}
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(host), qtype)
	resp, _, err := r.Client.ExchangeContext(ctx, query, r.Server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("query failed: %s", dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		switch record := rr.(type) {
		case *dns.A:
			return record.A.String(), nil
		case *dns.AAAA:
			return record.AAAA.String(), nil
		}
	}
	return "", errors.New("no usable answer records")
}
