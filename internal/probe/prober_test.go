package probe_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"github.com/dandantas/certwatch/internal/probe"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type certOpts struct {
	subject   pkix.Name
	dnsNames  []string
	ips       []net.IP
	notBefore time.Time
	notAfter  time.Time
}

type testCert struct {
	leaf *x509.Certificate
	tls  tls.Certificate
}

// genCert makes a self-signed server certificate
func genCert(t *testing.T, opts certOpts) testCert {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	if opts.notBefore.IsZero() {
		opts.notBefore = time.Now().Add(-time.Hour)
	}
	if opts.notAfter.IsZero() {
		opts.notAfter = time.Now().Add(time.Hour)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               opts.subject,
		NotBefore:             opts.notBefore,
		NotAfter:              opts.notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              opts.dnsNames,
		IPAddresses:           opts.ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return testCert{
		leaf: leaf,
		tls: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
	}
}

// serveTLS accepts connections on a loopback port and completes handshakes
func serveTLS(t *testing.T, cert testCert) int {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert.tls}})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.(*tls.Conn).Handshake()
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func loopbackCert(t *testing.T, notBefore, notAfter time.Time) testCert {
	return genCert(t, certOpts{
		subject:   pkix.Name{CommonName: "localhost", Organization: []string{"Certwatch Test"}},
		dnsNames:  []string{"localhost"},
		ips:       []net.IP{net.ParseIP("127.0.0.1")},
		notBefore: notBefore,
		notAfter:  notAfter,
	})
}

func poolOf(certs ...testCert) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c.leaf)
	}
	return pool
}

func TestProbeTrusted(t *testing.T) {
	t.Parallel()

	cert := loopbackCert(t, time.Time{}, time.Time{})
	port := serveTLS(t, cert)

	p := probe.NewProber(probe.Options{Timeout: 5 * time.Second, RootCAs: poolOf(cert)})
	out := p.Probe(t.Context(), "127.0.0.1", port)

	require.Equal(t, model.StatusOK, out.Status)
	require.NoError(t, out.Err)
	require.True(t, out.Started)
	require.NotNil(t, out.Certificate)
	require.Equal(t, "localhost", out.Certificate.Subject.CommonName)

	fields := probe.Extract(probe.FromX509(out.Certificate))
	require.True(t, fields.HasExpiry())
}

func TestProbeVerifyError(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		cert     testCert
		trusted  bool
		fallback bool
		wantCert bool
	}{
		{
			scenario: "unknown authority with fallback",
			cert:     loopbackCert(t, time.Time{}, time.Time{}),
			fallback: true,
			wantCert: true,
		},
		{
			scenario: "unknown authority without fallback",
			cert:     loopbackCert(t, time.Time{}, time.Time{}),
		},
		{
			scenario: "expired certificate",
			cert:     loopbackCert(t, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour)),
			trusted:  true,
			fallback: true,
			wantCert: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			port := serveTLS(t, tc.cert)

			opts := probe.Options{Timeout: 5 * time.Second, InsecureFallback: tc.fallback}
			if tc.trusted {
				opts.RootCAs = poolOf(tc.cert)
			} else {
				opts.RootCAs = x509.NewCertPool()
			}

			out := probe.NewProber(opts).Probe(t.Context(), "127.0.0.1", port)
			require.Equal(t, model.StatusVerifyError, out.Status)
			require.Error(t, out.Err)
			require.True(t, probe.IsVerifyError(out.Err))
			require.True(t, out.Started)

			if !tc.wantCert {
				require.Nil(t, out.Certificate)
				return
			}
			require.NotNil(t, out.Certificate)
			fields := probe.Extract(probe.FromX509(out.Certificate))
			require.True(t, fields.HasExpiry())
			require.Equal(t, tc.cert.leaf.NotAfter.Unix(), *fields.ExpiryTS)
		})
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	out := probe.NewProber(probe.Options{Timeout: 2 * time.Second}).Probe(t.Context(), "127.0.0.1", port)
	require.Equal(t, model.StatusConnectionError, out.Status)
	require.Error(t, out.Err)
	require.False(t, probe.IsVerifyError(out.Err))
	require.Nil(t, out.Certificate)
}

func TestProbeHandshakeTimeout(t *testing.T) {
	t.Parallel()

	// accepts TCP but never speaks TLS
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	start := time.Now()
	out := probe.NewProber(probe.Options{Timeout: 200 * time.Millisecond}).
		Probe(t.Context(), "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)

	require.Equal(t, model.StatusConnectionError, out.Status)
	require.Less(t, time.Since(start), 5*time.Second)
	require.GreaterOrEqual(t, out.Latency, 150*time.Millisecond)
}

func TestProbeRateLimitCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := probe.NewProber(probe.Options{
		Timeout: time.Second,
		Limiter: rate.NewLimiter(rate.Limit(0.001), 1),
	})
	out := p.Probe(ctx, "127.0.0.1", 1)

	require.Equal(t, model.StatusConnectionError, out.Status)
	require.False(t, out.Started)
	require.Error(t, out.Err)
}
