package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("failed to close response body: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	client := New(nil)
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)

	client = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "pestwatch-test/1.0"})
	assert.Equal(t, 5*time.Second, client.defaultTimeout)
	assert.Equal(t, "pestwatch-test/1.0", client.userAgent)
	assert.NotNil(t, client.HTTPClient())
}

func TestGet_UserAgentAndBody(t *testing.T) {
	t.Parallel()

	var receivedUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("snapshot"))
	})
	client := newTestClient(t, nil)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(body))
	assert.Equal(t, defaultUserAgent, receivedUA)
}

// The default timeout must keep running while the body is read, not end when Do returns.
func TestDo_DefaultTimeoutCoversBodyRead(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("late body"))
	})
	client := newTestClient(t, &Config{DefaultTimeout: 2 * time.Second})

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "late body", string(body))
}

func TestDo_DefaultTimeoutExpires(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	resp, err := client.Get(context.Background(), server.URL)
	defer closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ContextDeadlineOverridesDefault(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, &Config{DefaultTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_Cancelled(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	defer closeResponseBody(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoStream_NoDefaultTimeout(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		_, _ = w.Write([]byte("event: put\n"))
	})
	client := newTestClient(t, &Config{DefaultTimeout: 20 * time.Millisecond})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.DoStream(t.Context(), req)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "event: put\n", string(body))
}

func TestPostAndPatch_JSONBody(t *testing.T) {
	t.Parallel()

	type received struct {
		method      string
		contentType string
		body        map[string]string
	}
	got := make(chan received, 2)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- received{r.Method, r.Header.Get("Content-Type"), body}
	})
	client := newTestClient(t, nil)

	resp, err := client.Post(t.Context(), server.URL, "", map[string]string{"a": "1"})
	require.NoError(t, err)
	closeResponseBody(t, resp)
	resp, err = client.Patch(t.Context(), server.URL, "", map[string]string{"status_ulat": "true"})
	require.NoError(t, err)
	closeResponseBody(t, resp)

	first, second := <-got, <-got
	assert.Equal(t, http.MethodPost, first.method)
	assert.Equal(t, "application/json", first.contentType)
	assert.Equal(t, "1", first.body["a"])
	assert.Equal(t, http.MethodPatch, second.method)
	assert.Equal(t, "true", second.body["status_ulat"])
}

func TestHooks(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	client := newTestClient(t, nil)

	var before atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(http.StatusTeapot), status.Load())
}

func TestDo_NilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(t.Context(), nil)
	assert.Error(t, err)
}
