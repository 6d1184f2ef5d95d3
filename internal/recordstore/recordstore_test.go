package recordstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/httpclient"
	"github.com/hydroguard/pestwatch/internal/logger"
)

const dbURL = "https://garden-default-rtdb.firebaseio.com"

func newMockedStore(t *testing.T, cfg FirebaseConfig) (*FirebaseStore, *httpmock.MockTransport) {
	t.Helper()
	client := httpclient.New(nil)
	t.Cleanup(client.Close)
	mock := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mock

	if cfg.URL == "" {
		cfg.URL = dbURL
	}
	if cfg.Root == "" {
		cfg.Root = "camera"
	}
	store, err := NewFirebaseStore(t.Context(), cfg, client, WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	return store, mock
}

// keyedQuery asserts a limitToLast=1 key query and answers with body.
func keyedQuery(t *testing.T, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		assert.Equal(t, `"$key"`, q.Get("orderBy"))
		assert.Equal(t, "1", q.Get("limitToLast"))
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{Secret: "s3cret"})
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera.json",
		keyedQuery(t, `{"2026-10-15":{"ignored":true}}`))
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera/2026-10-15.json",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "s3cret", req.URL.Query().Get("auth"))
			return keyedQuery(t, `{"08:30:00":{"photo":"https://cdn/snap.jpg","status_ulat":false,"humidity":71}}`)(req)
		})

	rec, err := store.Latest(t.Context())
	require.NoError(t, err)

	assert.Equal(t, Key{Date: "2026-10-15", Time: "08:30:00"}, rec.Key)
	assert.Equal(t, "https://cdn/snap.jpg", rec.Photo)
	assert.Empty(t, rec.PhotoDetected)
	assert.False(t, rec.Processed())
	assert.Equal(t, "false", rec.PestFlag, "non-string flags keep their JSON form")
	assert.JSONEq(t, "71", string(rec.Raw["humidity"]))
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestLatest_Empty(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{})
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera.json", httpmock.NewStringResponder(http.StatusOK, "null"))

	_, err := store.Latest(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLatest_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"permission denied", http.StatusUnauthorized, `{"error":"Permission denied"}`, "Permission denied"},
		{"server error", http.StatusInternalServerError, "", "status 500"},
		{"not an object", http.StatusOK, `[1,2]`, "unexpected response shape"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockedStore(t, FirebaseConfig{})
			mock.RegisterResponder(http.MethodGet, dbURL+"/camera.json", httpmock.NewStringResponder(tt.status, tt.body))

			_, err := store.Latest(t.Context())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryRecordStore))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{})
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera/2026-10-15/08:30:00.json",
		httpmock.NewStringResponder(http.StatusOK, `{"photo":"p.jpg","photo_detected":"http://api/detectedImages/a.jpg","status_ulat":"true"}`))
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera/2026-10-15/09:00:00.json",
		httpmock.NewStringResponder(http.StatusOK, "null"))

	rec, err := store.Get(t.Context(), Key{Date: "2026-10-15", Time: "08:30:00"})
	require.NoError(t, err)
	assert.True(t, rec.Processed())
	assert.Equal(t, "true", rec.PestFlag)

	_, err = store.Get(t.Context(), Key{Date: "2026-10-15", Time: "09:00:00"})
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{
		Fields: Fields{PhotoDetected: "annotated", PestFlag: "pest"},
	})

	var got map[string]string
	mock.RegisterResponder(http.MethodPatch, dbURL+"/camera/2026-10-15/08:30:00.json",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &got))
			return httpmock.NewStringResponse(http.StatusOK, string(body)), nil
		})

	err := store.Update(t.Context(), Key{Date: "2026-10-15", Time: "08:30:00"},
		DetectionUpdate{PhotoDetected: "http://api/detectedImages/x.jpg", PestPresent: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"annotated": "http://api/detectedImages/x.jpg", "pest": "true"}, got)
}

func TestUpdate_Errors(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{})
	mock.RegisterResponder(http.MethodPatch, `=~^`+dbURL,
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":"Permission denied"}`))

	err := store.Update(t.Context(), Key{Date: "2026-10-15"}, DetectionUpdate{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, mock.GetTotalCallCount())

	err = store.Update(t.Context(), Key{Date: "2026-10-15", Time: "08:30:00"}, DetectionUpdate{})
	assert.True(t, errors.IsCategory(err, errors.CategoryRecordStore))
}

func TestNewFirebaseStore_InvalidConfig(t *testing.T) {
	t.Parallel()

	client := httpclient.New(nil)
	t.Cleanup(client.Close)

	for _, raw := range []string{"", "ftp://db", "not a url", "https://"} {
		_, err := NewFirebaseStore(t.Context(), FirebaseConfig{URL: raw}, client)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "url %q", raw)
	}

	_, err := NewFirebaseStore(t.Context(), FirebaseConfig{
		URL:             dbURL,
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	}, client)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func writeServiceAccount(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	sa := map[string]string{
		"type":           "service_account",
		"project_id":     "garden",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "pestwatch@garden.iam.gserviceaccount.com",
		"token_uri":      "https://oauth2.googleapis.com/token",
	}
	data, err := json.Marshal(sa)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestServiceAccountAuth(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{
		CredentialsFile: writeServiceAccount(t),
		Secret:          "ignored-when-credentials-are-set",
	})
	mock.RegisterResponder(http.MethodPost, "https://oauth2.googleapis.com/token",
		httpmock.NewStringResponder(http.StatusOK, `{"access_token":"ya29.token","token_type":"Bearer","expires_in":3600}`))
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera/2026-10-15/08:30:00.json",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer ya29.token", req.Header.Get("Authorization"))
			assert.Empty(t, req.URL.Query().Get("auth"))
			return httpmock.NewStringResponse(http.StatusOK, `{"photo":"p.jpg"}`), nil
		})

	for range 2 {
		_, err := store.Get(t.Context(), Key{Date: "2026-10-15", Time: "08:30:00"})
		require.NoError(t, err)
	}
	info := mock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://oauth2.googleapis.com/token"], "tokens are reused until expiry")
}

func TestWatch(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		"event: put",
		`data: {"path":"/","data":{"2026-10-15":{"08:30:00":{"photo":"a.jpg"}}}}`,
		"",
		": comment",
		"event: keep-alive",
		"data: null",
		"",
		"event: patch",
		`data: {"path":"/2026-10-15/08:31:00","data":{"photo":"b.jpg"}}`,
		"",
		"event: cancel",
		"data: null",
		"",
		"event: put",
		`data: {"path":"/never","data":null}`,
		"",
	}, "\n")

	store, mock := newMockedStore(t, FirebaseConfig{})
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera.json",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
			return keyedQuery(t, stream)(req)
		})

	events, err := store.Watch(t.Context())
	require.NoError(t, err)

	var got []Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}

	require.Len(t, got, 4, "events after cancel are not delivered")
	assert.Equal(t, EventPut, got[0].Type)
	assert.Equal(t, []Key{{Date: "2026-10-15", Time: "08:30:00"}}, got[0].Keys())
	assert.Equal(t, EventKeepAlive, got[1].Type)
	assert.Nil(t, got[1].Keys())
	assert.Equal(t, []Key{{Date: "2026-10-15", Time: "08:31:00"}}, got[2].Keys())
	assert.True(t, got[3].Terminal())
}

func TestReadEvents_LargeSnapshot(t *testing.T) {
	t.Parallel()

	times := make(map[string]map[string]string, 60000)
	for i := range 60000 {
		times[fmt.Sprintf("%02d:%02d:%02d.%d", i/3600%24, i/60%60, i%60, i)] = map[string]string{
			"photo": "https://cdn.example.com/snapshots/" + strings.Repeat("x", 40) + ".jpg",
		}
	}
	snapshot, err := json.Marshal(map[string]any{"path": "/", "data": map[string]any{"2026-10-15": times}})
	require.NoError(t, err)
	require.Greater(t, len(snapshot), 5<<20)

	stream := "event: put\r\ndata: " + string(snapshot) + "\r\n\r\n" +
		"event: patch\ndata: {\"path\":\"/2026-10-15/23:59:59\",\"data\":{\"photo\":\"b.jpg\"}}\n\n"

	var got []Event
	err = readEvents(t.Context(), strings.NewReader(stream), func(ev Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0].Keys(), 60000)
	assert.Equal(t, []Key{{Date: "2026-10-15", Time: "23:59:59"}}, got[1].Keys())
}

func TestWatch_StatusError(t *testing.T) {
	t.Parallel()

	store, mock := newMockedStore(t, FirebaseConfig{})
	mock.RegisterResponder(http.MethodGet, dbURL+"/camera.json",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"Permission denied"}`))

	_, err := store.Watch(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryRecordStore))
}

func TestEventKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
		want []Key
	}{
		{"date level", Event{Type: EventPatch, Path: "/2026-10-15", Data: json.RawMessage(`{"08:30:00":{}}`)},
			[]Key{{Date: "2026-10-15", Time: "08:30:00"}}},
		{"field level", Event{Type: EventPut, Path: "/2026-10-15/08:30:00/photo", Data: json.RawMessage(`"a.jpg"`)},
			[]Key{{Date: "2026-10-15", Time: "08:30:00"}}},
		{"null root", Event{Type: EventPut, Path: "/", Data: json.RawMessage(`null`)}, nil},
		{"auth revoked", Event{Type: EventAuthRevoked}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ev.Keys())
		})
	}
}

func TestKeyOrdering(t *testing.T) {
	t.Parallel()

	a := Key{Date: "2026-10-14", Time: "23:59:59"}
	b := Key{Date: "2026-10-15", Time: "00:00:00"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, "2026-10-15/00:00:00", b.String())
	assert.True(t, Key{}.IsZero())
}
