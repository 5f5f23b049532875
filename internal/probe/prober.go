package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"golang.org/x/time/rate"
)

// Options configures a Prober
type Options struct {
	// Timeout bounds the TCP connect and the TLS handshake together
	Timeout time.Duration
	// RootCAs overrides the system trust store when set
	RootCAs *x509.CertPool
	// InsecureFallback retries a failed verification without chain checks to
	// recover the leaf certificate
	InsecureFallback bool
	// Limiter throttles outbound probes when set
	Limiter *rate.Limiter
}

// Outcome is the classified result of one probe
type Outcome struct {
	Certificate *x509.Certificate
	Status      model.Status
	Err         error
	// Started is false when the probe was abandoned before dialing
	Started bool
	Latency time.Duration
}

// Prober opens TLS connections and retrieves leaf certificates
type Prober struct {
	opts Options
}

// NewProber creates a new prober
func NewProber(opts Options) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Prober{opts: opts}
}

// Probe connects to host:port, verifies the chain and server name against
// host, and returns the leaf certificate. It never panics: every failure is
// returned as a classified outcome.
func (p *Prober) Probe(ctx context.Context, host string, port int) Outcome {
	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.Wait(ctx); err != nil {
			return Outcome{
				Status: model.StatusConnectionError,
				Err:    fmt.Errorf("probe rate limit: %w", err),
			}
		}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	start := time.Now()
	cert, err := p.handshake(ctx, addr, host, false)
	out := Outcome{
		Started: true,
		Latency: time.Since(start),
	}

	switch {
	case err == nil:
		out.Status = model.StatusOK
		out.Certificate = cert
	case IsVerifyError(err):
		out.Status = model.StatusVerifyError
		out.Err = err
		if p.opts.InsecureFallback {
			if leaf, ferr := p.handshake(ctx, addr, host, true); ferr == nil {
				out.Certificate = leaf
			}
		}
	default:
		out.Status = model.StatusConnectionError
		out.Err = err
	}

	return out
}

func (p *Prober) handshake(ctx context.Context, addr, host string, insecure bool) (*x509.Certificate, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.opts.Timeout},
		Config: &tls.Config{
			ServerName:         host,
			RootCAs:            p.opts.RootCAs,
			InsecureSkipVerify: insecure,
		},
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, errors.New("unexpected connection type")
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("no peer certificate presented")
	}

	return state.PeerCertificates[0], nil
}

// IsVerifyError reports whether err is a certificate trust or name
// verification failure, as opposed to a transport failure
func IsVerifyError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname)
}
