package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
)

// TLS runs over TLS. The client side presents a Chrome ClientHello so the handshake blends in
// with browser traffic.
type TLS struct {
	*Direct
	ServerName         string
	InsecureSkipVerify bool

	certificate tls.Certificate
}

// NewTLS loads the server certificate from certFile and keyFile. If both are empty an
// ephemeral self-signed certificate is generated for ServerName.
func NewTLS(direct *Direct, serverName string, insecureSkipVerify bool, certFile, keyFile string) (*TLS, error) {
	t := &TLS{
		Direct:             direct,
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
	}
	var err error
	if certFile == "" && keyFile == "" {
		t.certificate, err = selfSignedCertificate(serverName)
	} else {
		t.certificate, err = tls.LoadX509KeyPair(certFile, keyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return t, nil
}

func (*TLS) String() string { return KindTLS }

func (t *TLS) Dial(ctx context.Context, addr string) (net.Conn, error) {
	rawConn, err := t.Direct.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	serverName := t.ServerName
	if serverName == "" {
		serverName, _, _ = net.SplitHostPort(addr)
	}
	uclient := utls.UClient(rawConn, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}, utls.HelloChrome_Auto)

	rawConn.SetDeadline(handshakeDeadline(ctx))
	err = uclient.Handshake()
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tls handshake with %v: %w", addr, err)
	}
	rawConn.SetDeadline(time.Time{})
	log.Tracef("tls handshake with %v done", addr)
	return uclient, nil
}

func (t *TLS) Listen(addr string) (net.Listener, error) {
	listener, err := t.Direct.Listen(addr)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(listener, &tls.Config{
		Certificates: []tls.Certificate{t.certificate},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

func selfSignedCertificate(serverName string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: serverName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if serverName != "" {
		template.DNSNames = []string{serverName}
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
