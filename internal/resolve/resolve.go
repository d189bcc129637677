// Package resolve looks up host addresses against an explicit name server instead of the
// system resolver
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultResolvConf = "/etc/resolv.conf"
	defaultTimeout    = 5 * time.Second
)

var ErrNoNameServer = errors.New("unable to load a name server")

// ServerError is a non-successful response code reported by the name server
type ServerError struct {
	Rcode int
}

func (e *ServerError) Error() string {
	return "dns server reported " + dns.RcodeToString[e.Rcode]
}

// NameServer returns the first name server listed in a resolv.conf style file, as host:port
func NameServer(path string) (string, error) {
	config, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return "", err
	}
	if len(config.Servers) == 0 {
		return "", ErrNoNameServer
	}
	port := config.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(config.Servers[0], port), nil
}

type Resolver struct {
	// Server is host:port of the name server
	Server string
	Client *dns.Client
}

// New makes a resolver for server, or for the first name server in DefaultResolvConf if
// server is empty
func New(server string) (*Resolver, error) {
	if server == "" {
		var err error
		server, err = NameServer(DefaultResolvConf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoNameServer, err)
		}
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		Server: server,
		Client: &dns.Client{Timeout: defaultTimeout},
	}, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	client := r.Client
	if client == nil {
		client = &dns.Client{Timeout: defaultTimeout}
	}
	resp, rtt, err := client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated && client.Net != "tcp" {
		log.Tracef("truncated answer for %v, retrying over tcp", name)
		tcpClient := &dns.Client{Net: "tcp", Timeout: client.Timeout}
		resp, rtt, err = tcpClient.ExchangeContext(ctx, m, r.Server)
		if err != nil {
			return nil, err
		}
	}
	log.Tracef("%v %v answered by %v in %v", dns.TypeToString[qtype], name, r.Server, rtt)
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &ServerError{Rcode: resp.Rcode}
	}
	return resp, nil
}

func (r *Resolver) LookupIPv4(ctx context.Context, host string) ([]net.IP, error) {
	resp, err := r.exchange(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	return ips, nil
}

func (r *Resolver) LookupIPv6(ctx context.Context, host string) ([]net.IP, error) {
	resp, err := r.exchange(ctx, host, dns.TypeAAAA)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, rr := range resp.Answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			ips = append(ips, aaaa.AAAA)
		}
	}
	return ips, nil
}

// LookupTXT returns each TXT record with its strings concatenated
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resp, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var txts []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			var joined string
			for _, s := range txt.Txt {
				joined += s
			}
			txts = append(txts, joined)
		}
	}
	return txts, nil
}

// LookupHost returns IPv4 addresses followed by IPv6 addresses. An IP literal is returned as is.
// It fails only if neither lookup yields an address.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	v4, err4 := r.LookupIPv4(ctx, host)
	v6, err6 := r.LookupIPv6(ctx, host)
	if err4 != nil && err6 != nil {
		return nil, err4
	}
	addrs := make([]string, 0, len(v4)+len(v6))
	for _, ip := range v4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range v6 {
		addrs = append(addrs, ip.String())
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.Server, IsNotFound: true}
	}
	return addrs, nil
}
