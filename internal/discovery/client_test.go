package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient(url)
	c.PollInterval = 20 * time.Millisecond
	return c
}

func TestNewClient_WhenEmptyURL_UsesDefault(t *testing.T) {
	t.Parallel()

	c := NewClient("")
	assert.Equal(t, DefaultAPIURL, c.APIURL)
	assert.Equal(t, DefaultPollInterval, c.PollInterval)
}

func TestDiscover_WhenTunnelAdvertisedLater_ReturnsIt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"tunnels":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"tunnels":[
			{"public_url":"http://nine.ngrok.io","config":{"addr":"localhost:9999"}},
			{"public_url":"http://mine.ngrok.io","config":{"addr":"localhost:3030"}}
		]}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(srv.URL).Discover(context.Background(), 3030, []Scheme{SchemeHTTP}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://mine.ngrok.io", rec.HTTP.String())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestDiscover_WhenServerErrorsFirst_Retries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "starting", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tunnels":[{"public_url":"https://s.ngrok.io","config":{"addr":"3030"}}]}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(srv.URL).Discover(context.Background(), 3030, []Scheme{SchemeHTTPS}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://s.ngrok.io", rec.HTTPS.String())
}

func TestDiscover_WhenAPINotListening_TimesOutWithNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	start := time.Now()
	_, err := newTestClient(url).Discover(context.Background(), 3030, []Scheme{SchemeHTTP}, 300*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestDiscover_WhenOnlyOtherSchemeAdvertised_TimesOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels":[{"public_url":"https://s.ngrok.io","config":{"addr":"3030"}}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Discover(context.Background(), 3030, []Scheme{SchemeHTTP}, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscover_WhenMalformed_FailsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"tunnels":"nope"}`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL).Discover(context.Background(), 3030, []Scheme{SchemeHTTP}, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscover_WhenContextCancelled_ReturnsContextError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels":[]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Discover(ctx, 3030, []Scheme{SchemeHTTP}, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestList_WhenOK_ReturnsDescriptors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"tunnels":[{"public_url":"http://a.ngrok.io","config":{"addr":"3030"}}]}`))
	}))
	defer srv.Close()

	descs, err := NewClient(srv.URL).List(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "http://a.ngrok.io", descs[0].PublicURL.String())
}
