package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultWebshareURL = "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page=1&page_size=100"

type webshareList struct {
	Results []struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		ProxyAddress string `json:"proxy_address"`
		Port         int    `json:"port"`
		CountryCode  string `json:"country_code"`
		Valid        *bool  `json:"valid"`
	} `json:"results"`
}

// FetchWebshare loads the account's proxy list once and keeps the entries
// located in country. An empty country keeps every valid entry.
func FetchWebshare(ctx context.Context, client *http.Client, listURL, token, country string) ([]Proxy, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: webshare token is not set", ErrProxyUnavailable)
	}
	if listURL == "" {
		listURL = DefaultWebshareURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build webshare request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: webshare request: %v", ErrProxyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: webshare returned status %d", ErrProxyUnavailable, resp.StatusCode)
	}

	var list webshareList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode webshare response: %w", err)
	}

	var proxies []Proxy
	for _, r := range list.Results {
		if r.Valid != nil && !*r.Valid {
			continue
		}
		if country != "" && !strings.EqualFold(r.CountryCode, country) {
			continue
		}
		proxies = append(proxies, Proxy{
			Address:  r.ProxyAddress,
			Port:     r.Port,
			Username: r.Username,
			Password: r.Password,
		})
	}
	return proxies, nil
}

// Endpoint asks a text API for a fresh "host:port" on every acquisition.
// Credentials, when the provider needs them, are fixed per account.
type Endpoint struct {
	client   *http.Client
	url      string
	username string
	password string
}

func NewEndpoint(client *http.Client, url, username, password string) *Endpoint {
	return &Endpoint{client: client, url: url, username: username, password: password}
}

func (e *Endpoint) Acquire(ctx context.Context) (*Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy endpoint request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: proxy endpoint: %v", ErrProxyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: proxy endpoint returned status %d", ErrProxyUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, fmt.Errorf("%w: reading proxy endpoint: %v", ErrProxyUnavailable, err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	p, err := Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyUnavailable, err)
	}
	if p.Username == "" {
		p.Username, p.Password = e.username, e.password
	}
	return &p, nil
}
