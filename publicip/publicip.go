// Package publicip discovers the public IPv4 address of the host by asking a list of
// plain text "what is my IP" services in order.
package publicip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrAllMirrorsExhausted is returned when none of the mirrors produced an IPv4 address
var ErrAllMirrorsExhausted = errors.New("failed to get current IP from all mirrors")

// DefaultMirrors are queried when no mirrors are configured
var DefaultMirrors = []string{
	"https://api.ipify.org",
	"https://ipv4.icanhazip.com",
	"https://icanhazip.com",
	"https://checkip.amazonaws.com",
}

const (
	// DefaultTimeout bounds a single mirror request
	DefaultTimeout = 10 * time.Second
	userAgent      = "cf-ddns/1.0"
	maxBodySize    = 256
)

// Provider returns the current public IPv4 address
type Provider interface {
	CurrentIP(ctx context.Context) (string, error)
}

// Resolver implements Provider on top of HTTP mirrors
type Resolver struct {
	mirrors []string
	client  *http.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewResolver creates a Resolver
// An empty mirror list falls back to DefaultMirrors, a nil client to http.DefaultClient
// and a non positive timeout to DefaultTimeout
func NewResolver(mirrors []string, client *http.Client, timeout time.Duration, logger *zap.SugaredLogger) *Resolver {
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		mirrors: append([]string(nil), mirrors...),
		client:  client,
		timeout: timeout,
		logger:  logger.Named("public-ip"),
	}
}

// CurrentIP asks each mirror in turn and returns the first valid IPv4 address
func (resolver *Resolver) CurrentIP(ctx context.Context) (string, error) {
	var errs error
	for _, mirror := range resolver.mirrors {
		ip, err := resolver.query(ctx, mirror)
		if err == nil {
			resolver.logger.Debugw("Resolved public IP", "mirror", mirror, "ip", ip)
			return ip, nil
		}
		resolver.logger.Warnw("Failed to get IP from mirror", "mirror", mirror, "err", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", mirror, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrAllMirrorsExhausted, errs)
}

func (resolver *Resolver) query(ctx context.Context, mirror string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolver.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := resolver.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d: %q", resp.StatusCode, body)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to parse IP address: %w", err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return "", fmt.Errorf("not an IPv4 address: %s", addr)
	}
	return addr.String(), nil
}

// Static is a Provider that always returns the same address
type Static string

// CurrentIP returns the static address
func (ip Static) CurrentIP(context.Context) (string, error) {
	return string(ip), nil
}
