package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

const (
	componentName = "recordstore"

	defaultTimeout  = 10 * time.Second
	maxResponseSize = 8 << 20
)

// firebaseScopes are the OAuth2 scopes the Realtime Database REST API accepts.
var firebaseScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Client is the HTTP client surface the store needs. *httpclient.Client satisfies it.
type Client interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	DoStream(ctx context.Context, req *http.Request) (*http.Response, error)
	HTTPClient() *http.Client
}

// Fields names the record properties read and written.
type Fields struct {
	Photo         string
	PhotoDetected string
	PestFlag      string
}

// DefaultFields match the camera records written by the hydroponics app.
var DefaultFields = Fields{Photo: "photo", PhotoDetected: "photo_detected", PestFlag: "status_ulat"}

// FirebaseConfig configures a FirebaseStore.
type FirebaseConfig struct {
	URL             string // database URL
	Root            string // node holding date/time keyed records
	Secret          string // legacy database secret
	CredentialsFile string // service account JSON; takes precedence over Secret
	Timeout         time.Duration
	Fields          Fields
}

// FirebaseStore implements Store over the Firebase Realtime Database REST API.
type FirebaseStore struct {
	base    *url.URL
	root    []string
	secret  string
	tokens  oauth2.TokenSource
	timeout time.Duration
	fields  Fields
	client  Client
	log     logger.Logger
}

// FirebaseOption configures a FirebaseStore.
type FirebaseOption func(*FirebaseStore)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) FirebaseOption {
	return func(s *FirebaseStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewFirebaseStore validates cfg and builds a store. When CredentialsFile is
// set, service account tokens are fetched through client.
func NewFirebaseStore(ctx context.Context, cfg FirebaseConfig, client Client, opts ...FirebaseOption) (*FirebaseStore, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || (base.Scheme != "https" && base.Scheme != "http") || base.Host == "" {
		return nil, configError(fmt.Sprintf("invalid record store URL %q", cfg.URL))
	}

	fields := cfg.Fields
	if fields.Photo == "" {
		fields.Photo = DefaultFields.Photo
	}
	if fields.PhotoDetected == "" {
		fields.PhotoDetected = DefaultFields.PhotoDetected
	}
	if fields.PestFlag == "" {
		fields.PestFlag = DefaultFields.PestFlag
	}

	s := &FirebaseStore{
		base:    base,
		root:    splitPath(cfg.Root),
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		fields:  fields,
		client:  client,
		log:     logger.Global().Module(componentName),
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.CredentialsFile != "" {
		ts, err := serviceAccountTokens(ctx, cfg.CredentialsFile, client.HTTPClient())
		if err != nil {
			return nil, err
		}
		s.tokens = ts
	}
	return s, nil
}

func serviceAccountTokens(ctx context.Context, path string, hc *http.Client) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read service account credentials: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	// Token refreshes outlive the constructor's ctx, so they run detached from
	// it but through the shared client.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, hc)
	creds, err := google.CredentialsFromJSONWithType(tokenCtx, data, google.ServiceAccount, firebaseScopes...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid service account credentials: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return creds.TokenSource, nil
}

// Latest finds the newest date, then the newest time within it, using keyed
// limitToLast=1 queries so only one record crosses the wire.
func (s *FirebaseStore) Latest(ctx context.Context) (*Record, error) {
	date, _, err := s.lastChild(ctx, s.root)
	if err != nil {
		return nil, err
	}
	tm, raw, err := s.lastChild(ctx, append(slices.Clone(s.root), date))
	if err != nil {
		return nil, err
	}

	rec := &Record{Key: Key{Date: date, Time: tm}}
	if err := s.decodeRecord(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get reads a single record.
func (s *FirebaseStore) Get(ctx context.Context, key Key) (*Record, error) {
	var raw json.RawMessage
	if err := s.getJSON(ctx, s.recordPath(key), nil, &raw); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, notFound("record %s does not exist", key)
	}
	rec := &Record{Key: key}
	if err := s.decodeRecord(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update patches the detected photo URL and the pest flag onto the record.
// Other record fields are left untouched.
func (s *FirebaseStore) Update(ctx context.Context, key Key, upd DetectionUpdate) error {
	if key.Date == "" || key.Time == "" {
		return errors.Newf("record key %q is incomplete", key.String()).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	body := map[string]string{
		s.fields.PhotoDetected: upd.PhotoDetected,
		s.fields.PestFlag:      upd.PestFlag(),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return storeError(err, "update")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := s.newRequest(ctx, http.MethodPatch, s.recordPath(key), nil, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return storeError(err, "update")
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp, "update"); err != nil {
		return err
	}

	s.log.Debug("record updated",
		logger.String("key", key.String()),
		logger.String("pest_flag", upd.PestFlag()))
	return nil
}

// lastChild returns the greatest key directly under path and its value.
func (s *FirebaseStore) lastChild(ctx context.Context, path []string) (string, json.RawMessage, error) {
	q := url.Values{}
	q.Set("orderBy", `"$key"`)
	q.Set("limitToLast", "1")

	var children map[string]json.RawMessage
	if err := s.getJSON(ctx, path, q, &children); err != nil {
		return "", nil, err
	}

	var last string
	for k := range children {
		if k > last {
			last = k
		}
	}
	if last == "" {
		return "", nil, notFound("no records under %q", "/"+strings.Join(path, "/"))
	}
	return last, children[last], nil
}

func (s *FirebaseStore) getJSON(ctx context.Context, path []string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := s.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return storeError(err, "read")
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp, "read"); err != nil {
		return err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return storeError(err, "read")
	}
	if isNull(data) {
		// an absent node reads as null
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return storeError(fmt.Errorf("unexpected response shape: %w", err), "read")
	}
	return nil
}

func (s *FirebaseStore) decodeRecord(raw json.RawMessage, rec *Record) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return storeError(fmt.Errorf("record %s is not an object: %w", rec.Key, err), "read")
	}
	rec.Raw = fields
	rec.Photo = stringField(fields[s.fields.Photo])
	rec.PhotoDetected = stringField(fields[s.fields.PhotoDetected])
	rec.PestFlag = stringField(fields[s.fields.PestFlag])
	return nil
}

// newRequest builds a request for <base>/<path>.json with auth applied.
func (s *FirebaseStore) newRequest(ctx context.Context, method string, path []string, q url.Values, body io.Reader) (*http.Request, error) {
	u := s.base.JoinPath(path...)
	if len(path) == 0 {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/.json"
	} else {
		u.Path += ".json"
	}
	u.RawPath = ""

	if q == nil {
		q = url.Values{}
	}
	if s.tokens == nil && s.secret != "" {
		q.Set("auth", s.secret)
	}
	u.RawQuery = q.Encode()

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, storeError(err, "build_request")
	}
	if s.tokens != nil {
		tok, err := s.tokens.Token()
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to obtain access token: %w", err)).
				Component(componentName).
				Category(errors.CategoryRecordStore).
				Context("operation", "auth").
				Build()
		}
		tok.SetAuthHeader(req)
	}
	return req, nil
}

func (s *FirebaseStore) recordPath(key Key) []string {
	return append(slices.Clone(s.root), key.Date, key.Time)
}

func splitPath(p string) []string {
	var out []string
	for seg := range strings.SplitSeq(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// booleans and numbers are kept in their JSON form
	return string(raw)
}

func isNull(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := fmt.Sprintf("record store returned status %d", resp.StatusCode)
	if body.Error != "" {
		msg += ": " + body.Error
	}
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryRecordStore).
		Context("operation", op).
		Context("status", resp.StatusCode).
		Build()
}

func storeError(err error, op string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryRecordStore).
		Context("operation", op).
		Build()
}

func notFound(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryNotFound).
		Build()
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Build()
}
