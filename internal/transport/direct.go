package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cbeuw/tangle/internal/common"
	log "github.com/sirupsen/logrus"
)

var errNoAddress = errors.New("host resolved to no address")

// Direct is plain TCP
type Direct struct {
	Dialer   common.Dialer
	Resolver Resolver
}

func (*Direct) String() string { return KindDirect }

func (d *Direct) dialer() common.Dialer {
	if d.Dialer == nil {
		return &net.Dialer{}
	}
	return d.Dialer
}

func (d *Direct) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.Resolver == nil {
		return d.dialer().DialContext(ctx, "tcp", addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := d.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %v: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%v: %w", host, errNoAddress)
	}
	for _, ip := range ips {
		var conn net.Conn
		conn, err = d.dialer().DialContext(ctx, "tcp", net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		log.Debugf("failed to dial %v (%v): %v", host, ip, err)
	}
	return nil, err
}

func (*Direct) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
