package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("empty pool is unavailable", func(t *testing.T) {
		_, err := NewPool(nil).Acquire(ctx)
		assert.ErrorIs(t, err, ErrProxyUnavailable)
	})

	t.Run("picks from every entry", func(t *testing.T) {
		proxies := []Proxy{
			{Address: "10.0.0.1", Port: 8000},
			{Address: "10.0.0.2", Port: 8000},
			{Address: "10.0.0.3", Port: 8000},
		}
		pool := NewPool(proxies)
		assert.Equal(t, 3, pool.Len())

		seen := map[string]int{}
		for i := 0; i < 300; i++ {
			p, err := pool.Acquire(ctx)
			require.NoError(t, err)
			seen[p.Address]++
		}
		assert.Len(t, seen, 3)
	})

	t.Run("acquired proxy is a copy", func(t *testing.T) {
		pool := NewPool([]Proxy{{Address: "10.0.0.1", Port: 8000}})
		p, err := pool.Acquire(ctx)
		require.NoError(t, err)
		p.Address = "changed"

		again, err := pool.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", again.Address)
	})
}

func TestGateway_Acquire(t *testing.T) {
	g := Gateway{Proxy: Proxy{Address: "geo.iproyal.com", Port: 12321, Username: "u", Password: "p"}}
	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://geo.iproyal.com:12321", p.Server())
	assert.Equal(t, "u", p.Username)

	_, err = Gateway{}.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrProxyUnavailable)
}

func TestParseList(t *testing.T) {
	proxies, err := ParseList("user:secret@1.2.3.4:8080, 5.6.7.8:3128\nhttp://9.9.9.9:80")
	require.NoError(t, err)
	require.Len(t, proxies, 3)

	assert.Equal(t, Proxy{Address: "1.2.3.4", Port: 8080, Username: "user", Password: "secret"}, proxies[0])
	assert.Equal(t, Proxy{Address: "5.6.7.8", Port: 3128}, proxies[1])
	assert.Equal(t, "9.9.9.9:80", proxies[2].HostPort())

	empty, err := ParseList("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseList("1.2.3.4")
	assert.Error(t, err)

	_, err = ParseList("1.2.3.4:99999")
	assert.Error(t, err)
}

func TestFetchWebshare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":3,"results":[
			{"username":"a","password":"pa","proxy_address":"1.1.1.1","port":6001,"country_code":"US","valid":true},
			{"username":"b","password":"pb","proxy_address":"2.2.2.2","port":6002,"country_code":"DE","valid":true},
			{"username":"c","password":"pc","proxy_address":"3.3.3.3","port":6003,"country_code":"US","valid":false}
		]}`))
	}))
	defer srv.Close()

	ctx := context.Background()

	t.Run("filters by country and validity", func(t *testing.T) {
		proxies, err := FetchWebshare(ctx, srv.Client(), srv.URL, "good", "us")
		require.NoError(t, err)
		require.Len(t, proxies, 1)
		assert.Equal(t, Proxy{Address: "1.1.1.1", Port: 6001, Username: "a", Password: "pa"}, proxies[0])
	})

	t.Run("no country keeps all valid entries", func(t *testing.T) {
		proxies, err := FetchWebshare(ctx, srv.Client(), srv.URL, "good", "")
		require.NoError(t, err)
		assert.Len(t, proxies, 2)
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := FetchWebshare(ctx, srv.Client(), srv.URL, "bad", "US")
		assert.ErrorIs(t, err, ErrProxyUnavailable)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := FetchWebshare(ctx, srv.Client(), srv.URL, "", "US")
		assert.ErrorIs(t, err, ErrProxyUnavailable)
	})
}

func TestEndpoint_Acquire(t *testing.T) {
	body := "4.4.4.4:7000\n"
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), srv.URL, "acct", "pw")
	ctx := context.Background()

	p, err := e.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Proxy{Address: "4.4.4.4", Port: 7000, Username: "acct", Password: "pw"}, *p)

	body = "not a proxy"
	_, err = e.Acquire(ctx)
	assert.ErrorIs(t, err, ErrProxyUnavailable)

	status = http.StatusBadGateway
	_, err = e.Acquire(ctx)
	assert.ErrorIs(t, err, ErrProxyUnavailable)
}
