package resolve

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

var (
	MDNSGroupIPv4 = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}
	MDNSGroupIPv6 = &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: 5353}
)

const (
	DefaultDiscoverInterval = 5 * time.Second
	instanceBacklog         = 16
	maxMDNSPacket           = 9000
)

var ErrDiscoverClosed = errors.New("discovery closed")

// Instance is one provider of a service found on the local network
type Instance struct {
	Name   string
	Target string
	Port   uint16
	IPs    []net.IP
	// From is where the answer came from
	From net.Addr
}

// Addr is host:port for dialling the instance, preferring an address record over the target name
func (i Instance) Addr() string {
	host := strings.TrimSuffix(i.Target, ".")
	if len(i.IPs) > 0 {
		host = i.IPs[0].String()
	}
	return net.JoinHostPort(host, fmt.Sprint(i.Port))
}

// Discover repeatedly asks the multicast DNS group for a DNS-SD service and queues every instance
// named in the answers. Queries are sent from an ephemeral port, so responders answer by unicast.
type Discover struct {
	service string
	// marker is attached to each query so we can drop our own packets
	marker   string
	interval time.Duration
	group    *net.UDPAddr
	conn     *net.UDPConn

	instances chan Instance
	closeOnce sync.Once
	closed    chan struct{}
}

// NewDiscover starts asking group for service every interval. A nil group means MDNSGroupIPv4.
func NewDiscover(service string, interval time.Duration, group *net.UDPAddr) (*Discover, error) {
	if _, ok := dns.IsDomainName(service); !ok || service == "" {
		return nil, fmt.Errorf("invalid service name %q", service)
	}
	if interval <= 0 {
		interval = DefaultDiscoverInterval
	}
	if group == nil {
		group = MDNSGroupIPv4
	}
	network := "udp4"
	if group.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, err
	}

	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		conn.Close()
		return nil, err
	}
	d := &Discover{
		service:   dns.Fqdn(service),
		marker:    hex.EncodeToString(token) + ".tangle.mdns.",
		interval:  interval,
		group:     group,
		conn:      conn,
		instances: make(chan Instance, instanceBacklog),
		closed:    make(chan struct{}),
	}
	go d.askLoop()
	go d.recvLoop()
	return d, nil
}

func (d *Discover) query() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(d.service, dns.TypePTR)
	m.RecursionDesired = false
	m.Extra = append(m.Extra, &dns.NULL{
		Hdr: dns.RR_Header{Name: d.marker, Rrtype: dns.TypeNULL, Class: dns.ClassINET},
	})
	return m
}

func (d *Discover) askLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		packet, err := d.query().Pack()
		if err != nil {
			log.Errorf("mdns: failed to pack query for %v: %v", d.service, err)
			return
		}
		if _, err := d.conn.WriteToUDP(packet, d.group); err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			log.Debugf("mdns: failed to ask %v for %v: %v", d.group, d.service, err)
		}
		select {
		case <-d.closed:
			return
		case <-ticker.C:
		}
	}
}

func (d *Discover) recvLoop() {
	buf := make([]byte, maxMDNSPacket)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			d.Close()
			return
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			log.Tracef("mdns: malformed packet from %v: %v", from, err)
			continue
		}
		if d.sentBySelf(msg) {
			continue
		}
		found := d.instancesIn(msg, from)
		if len(found) == 0 {
			log.Tracef("mdns: answer from %v names no instance of %v", from, d.service)
			continue
		}
		for _, instance := range found {
			select {
			case d.instances <- instance:
			case <-d.closed:
				return
			default:
				log.Debugf("mdns: backlog full, dropping %v", instance.Name)
			}
		}
	}
}

func (d *Discover) sentBySelf(msg *dns.Msg) bool {
	for _, rr := range msg.Extra {
		if strings.EqualFold(rr.Header().Name, d.marker) {
			return true
		}
	}
	return false
}

// instancesIn pairs each PTR answer for the service with its SRV record and the address records of
// the SRV target, looking through both the answer and additional sections
func (d *Discover) instancesIn(msg *dns.Msg, from net.Addr) []Instance {
	if !msg.Response {
		return nil
	}
	records := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)
	srvs := make(map[string]*dns.SRV)
	ips := make(map[string][]net.IP)
	for _, rr := range records {
		name := strings.ToLower(rr.Header().Name)
		switch r := rr.(type) {
		case *dns.SRV:
			srvs[name] = r
		case *dns.A:
			ips[name] = append(ips[name], r.A)
		case *dns.AAAA:
			ips[name] = append(ips[name], r.AAAA)
		}
	}

	var found []Instance
	for _, rr := range msg.Answer {
		ptr, ok := rr.(*dns.PTR)
		if !ok || !strings.EqualFold(ptr.Hdr.Name, d.service) {
			continue
		}
		srv, ok := srvs[strings.ToLower(ptr.Ptr)]
		if !ok {
			log.Tracef("mdns: %v has no SRV record in the answer from %v", ptr.Ptr, from)
			continue
		}
		found = append(found, Instance{
			Name:   ptr.Ptr,
			Target: srv.Target,
			Port:   srv.Port,
			IPs:    ips[strings.ToLower(srv.Target)],
			From:   from,
		})
	}
	return found
}

// Accept blocks until an instance is found, ctx is done or the discovery is closed
func (d *Discover) Accept(ctx context.Context) (Instance, error) {
	select {
	case instance := <-d.instances:
		return instance, nil
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	case <-d.closed:
		return Instance{}, ErrDiscoverClosed
	}
}

func (d *Discover) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = d.conn.Close()
	})
	return err
}

// DiscoverAddr asks group for service until one instance answers and returns its address
func DiscoverAddr(ctx context.Context, service string, interval time.Duration, group *net.UDPAddr) (string, error) {
	d, err := NewDiscover(service, interval, group)
	if err != nil {
		return "", err
	}
	defer d.Close()
	instance, err := d.Accept(ctx)
	if err != nil {
		return "", fmt.Errorf("discover %v: %w", service, err)
	}
	log.Infof("Discovered %v at %v", instance.Name, instance.Addr())
	return instance.Addr(), nil
}
