// Package proxy hands out outbound proxies to scraping tasks.
package proxy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"

	"github.com/maltedev/store-scraper/internal/models"
)

var ErrProxyUnavailable = models.ErrProxyUnavailable

type Proxy struct {
	Address  string
	Port     int
	Username string
	Password string
}

// Server is the proxy URL without credentials, as browsers expect it.
func (p Proxy) Server() string {
	return "http://" + p.HostPort()
}

func (p Proxy) HostPort() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// Provider is asked for a proxy once per scraping task.
type Provider interface {
	Acquire(ctx context.Context) (*Proxy, error)
}

// Pool picks uniformly at random from a fixed list. The list is never
// modified after construction, so a Pool is safe for concurrent use.
type Pool struct {
	proxies []Proxy
}

func NewPool(proxies []Proxy) *Pool {
	return &Pool{proxies: append([]Proxy(nil), proxies...)}
}

func (p *Pool) Acquire(ctx context.Context) (*Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.proxies) == 0 {
		return nil, fmt.Errorf("%w: pool is empty", ErrProxyUnavailable)
	}
	picked := p.proxies[rand.IntN(len(p.proxies))]
	return &picked, nil
}

func (p *Pool) Len() int {
	return len(p.proxies)
}

// Gateway is a rotating residential endpoint: one host:port that assigns a
// new exit address per connection.
type Gateway struct {
	Proxy Proxy
}

func (g Gateway) Acquire(ctx context.Context) (*Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.Proxy.Address == "" {
		return nil, fmt.Errorf("%w: gateway not configured", ErrProxyUnavailable)
	}
	p := g.Proxy
	return &p, nil
}

// ParseList reads comma or newline separated entries of the form
// "host:port" or "user:pass@host:port".
func ParseList(raw string) ([]Proxy, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	proxies := make([]Proxy, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := Parse(f)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func Parse(s string) (Proxy, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "http://")

	var p Proxy
	if at := strings.LastIndex(s, "@"); at >= 0 {
		creds := s[:at]
		s = s[at+1:]
		user, pass, _ := strings.Cut(creds, ":")
		p.Username, p.Password = user, pass
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return Proxy{}, fmt.Errorf("invalid proxy port %q", port)
	}
	p.Address, p.Port = host, n
	return p, nil
}
