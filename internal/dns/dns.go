// Package dns resolves the signaling server host with a fallback to public
// resolvers when the system resolver fails, which happens on some captive and
// VPN networks.
package dns

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Public resolvers raced when the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",
	"1.0.0.1",
	"8.8.8.8",
	"8.8.4.4",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"[2606:4700:4700::1111]",
	"[2001:4860:4860::8888]",
}

const (
	localTimeout  = time.Second
	remoteTimeout = 2 * time.Second
)

// lookupFunc resolves host against one resolver.
type lookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver looks a host up locally first and then races public servers.
type Resolver struct {
	local   lookupFunc
	remotes []lookupFunc
}

// New returns a Resolver using the system resolver and the built-in public
// server list.
func New() *Resolver {
	r := &Resolver{local: net.DefaultResolver.LookupHost}
	for _, server := range publicDNS {
		r.remotes = append(r.remotes, viaServer(server))
	}
	return r
}

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ips, err := r.local(lctx, host)
	cancel()
	if err == nil {
		if ip, ok := pick(ips); ok {
			return ip, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return r.race(ctx, host)
}

// DialContext resolves the host part of addr with Lookup and dials it. It
// fits http.Transport.DialContext and websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.remotes) == 0 {
		return "", fmt.Errorf("failed to resolve %s", host)
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	type result struct {
		ip string
		ok bool
	}
	results := make(chan result, len(r.remotes))
	for _, lookup := range r.remotes {
		go func() {
			ips, err := lookup(ctx, host)
			if err != nil {
				results <- result{}
				return
			}
			ip, ok := pick(ips)
			results <- result{ip: ip, ok: ok}
		}()
	}

	for range r.remotes {
		select {
		case res := <-results:
			if res.ok {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolving %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public resolvers failed", host, len(r.remotes))
}

func viaServer(server string) lookupFunc {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return r.LookupHost
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

func pick(ips []string) (string, bool) {
	if len(ips) == 0 {
		return "", false
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	return ips[0], true
}
