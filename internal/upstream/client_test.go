package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/any-hub/swr-gateway/internal/shape"
)

func TestGetExtractsV4Payload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("ETag", `"v4"`)
		_, _ = w.Write([]byte(`{"result":{"data":{"price":42}}}`))
	}))
	defer srv.Close()

	doc, err := NewClient(srv.Client(), 0).Get(context.Background(), target(t, srv.URL, autoPaths(t)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":42}`, string(doc.Data))
	assert.Equal(t, "result.data", doc.Path)
	assert.Equal(t, `"v4"`, doc.ETag)
	assert.False(t, doc.FetchedAt.IsZero())
}

func TestGetExtractsV3Payload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[1,2,3]}`))
	}))
	defer srv.Close()

	doc, err := NewClient(srv.Client(), 0).Get(context.Background(), target(t, srv.URL, autoPaths(t)))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(doc.Data))
	assert.Equal(t, "data", doc.Path)
}

func TestGetShapeUnrecognized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other":true}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), 0).Get(context.Background(), target(t, srv.URL, []string{"data", "result.data"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeUnrecognized)
}

func TestGetNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), 0).Get(context.Background(), target(t, srv.URL, []string{"@this"}))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, "maintenance", statusErr.Body)
}

func TestGetRejectsInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), 0).Get(context.Background(), target(t, srv.URL, []string{"@this"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid json")
}

func TestGetRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":"` + strings.Repeat("x", 64) + `"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), 16).Get(context.Background(), target(t, srv.URL, []string{"data"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestGetSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tgt := target(t, srv.URL, []string{"@this"})
	tgt.Token = "secret"
	_, err := NewClient(srv.Client(), 0).Get(context.Background(), tgt)
	require.NoError(t, err)
}

func TestGetSendsBasicCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "pw", pass)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tgt := target(t, srv.URL, []string{"@this"})
	tgt.Username, tgt.Password = "alice", "pw"
	_, err := NewClient(srv.Client(), 0).Get(context.Background(), tgt)
	require.NoError(t, err)
}

func TestGetHonoursContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.Client(), 0).Get(ctx, target(t, srv.URL, []string{"@this"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetThroughProxyReusesConnections(t *testing.T) {
	var (
		newConns atomic.Int32
		proxied  atomic.Int32
	)
	proxy := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 正向代理收到的是绝对 URI，Host 指向真实上游。
		if r.URL.IsAbs() && r.URL.Host == "upstream.invalid" {
			proxied.Inc()
		}
		_, _ = w.Write([]byte(`{"data":{"price":3}}`))
	}))
	proxy.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			newConns.Inc()
		}
	}
	proxy.Start()
	defer proxy.Close()

	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)
	tgt := target(t, "http://upstream.invalid/v1/prices", []string{"data"})
	tgt.Proxy = proxyURL

	client := NewClient(&http.Client{Transport: &http.Transport{}}, 0)
	op := client.Operation(tgt)
	for i := 0; i < 3; i++ {
		doc, err := op(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `{"price":3}`, string(doc.Data))
	}
	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), tgt)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 5, proxied.Load())
	assert.EqualValues(t, 1, newConns.Load(), "sequential fetches through one proxy should share a connection")
	assert.Same(t, client.clientFor(proxyURL), client.clientFor(proxyURL))
	assert.NotSame(t, client.http, client.clientFor(proxyURL))
}

func TestExtractRawProfileReturnsWholeBody(t *testing.T) {
	paths, err := shape.PathsFor("raw", nil)
	require.NoError(t, err)
	data, path, err := Extract([]byte(`{"a":1}`), paths)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
	assert.Equal(t, "@this", path)
}

func TestExtractKeepsExplicitNull(t *testing.T) {
	data, path, err := Extract([]byte(`{"data":null}`), []string{"result", "data"})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
	assert.Equal(t, "data", path)
}

func target(t *testing.T, raw string, paths []string) Target {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return Target{URL: u, Paths: paths}
}

func autoPaths(t *testing.T) []string {
	t.Helper()
	paths, err := shape.PathsFor(shape.DefaultKey(), nil)
	require.NoError(t, err)
	return paths
}
