// Package imagesource turns the accepted image inputs (HTTP(S) URL, base64 data
// URI, local path or raw upload bytes) into a decoded image plus its raw bytes.
package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// Kind identifies which input branch produced an image.
type Kind string

const (
	KindURL     Kind = "url"
	KindDataURI Kind = "data-uri"
	KindPath    Kind = "path"
	KindBytes   Kind = "bytes"
)

const (
	// DefaultMaxBytes bounds any single image input.
	DefaultMaxBytes = 20 << 20
	// maxPixels rejects images whose header claims absurd dimensions before decoding.
	maxPixels = 50_000_000

	componentName = "imagesource"
)

// Image is a normalized input image.
type Image struct {
	Data   []byte      // raw encoded bytes as received
	Image  image.Image // decoded pixels
	Format string      // decoder name: jpeg, png, gif, bmp, tiff, webp
	Kind   Kind
	Ext    string // file extension including the dot, used when persisting Data
}

// Width returns the decoded width in pixels.
func (i *Image) Width() int { return i.Image.Bounds().Dx() }

// Height returns the decoded height in pixels.
func (i *Image) Height() int { return i.Image.Bounds().Dy() }

// Fetcher retrieves remote images. *httpclient.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Normalizer resolves source strings into images.
type Normalizer struct {
	fetcher         Fetcher
	maxBytes        int64
	allowLocalPaths bool
	log             logger.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxBytes bounds the size of any input.
func WithMaxBytes(n int64) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxBytes = n
		}
	}
}

// WithLocalPaths enables the filesystem branch. Network-facing callers leave it off.
func WithLocalPaths(allow bool) Option {
	return func(nz *Normalizer) { nz.allowLocalPaths = allow }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(nz *Normalizer) {
		if log != nil {
			nz.log = log
		}
	}
}

// New creates a Normalizer fetching URLs through fetcher.
func New(fetcher Fetcher, opts ...Option) *Normalizer {
	nz := &Normalizer{
		fetcher:  fetcher,
		maxBytes: DefaultMaxBytes,
		log:      logger.Global().Module(componentName),
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Classify reports which branch Load would take for source.
func Classify(source string) Kind {
	lower := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindURL
	case strings.HasPrefix(lower, "data:image"):
		return KindDataURI
	default:
		return KindPath
	}
}

// Load resolves source by prefix: http(s) URLs are fetched, data:image URIs are
// base64 decoded, anything else is read as a local path.
func (n *Normalizer) Load(ctx context.Context, source string) (*Image, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, validationError(KindBytes, "no image source provided")
	}

	switch Classify(source) {
	case KindURL:
		return n.loadURL(ctx, source)
	case KindDataURI:
		return n.loadDataURI(source)
	default:
		return n.loadPath(source)
	}
}

// FromBytes decodes an uploaded blob.
func (n *Normalizer) FromBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, validationError(KindBytes, "uploaded file is empty")
	}
	if int64(len(data)) > n.maxBytes {
		return nil, validationError(KindBytes, fmt.Sprintf("uploaded file exceeds %d bytes", n.maxBytes))
	}
	return decode(data, KindBytes, "")
}

// FromReader reads at most the size limit from r and decodes it.
func (n *Normalizer) FromReader(r io.Reader) (*Image, error) {
	data, err := readLimited(r, n.maxBytes)
	if err != nil {
		return nil, err
	}
	return n.FromBytes(data)
}

func (n *Normalizer) loadURL(ctx context.Context, rawURL string) (*Image, error) {
	if n.fetcher == nil {
		return nil, errors.Newf("URL sources are not supported without an HTTP client").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, validationError(KindURL, fmt.Sprintf("invalid image URL %q", rawURL))
	}

	resp, err := n.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to fetch image from URL: %w", err)).
			Component(componentName).
			Category(errors.CategoryImageFetch).
			Context("source", string(KindURL)).
			Context("host", u.Host).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("failed to fetch image from URL: status %d", resp.StatusCode).
			Component(componentName).
			Category(errors.CategoryImageFetch).
			Context("source", string(KindURL)).
			Context("status", resp.StatusCode).
			Build()
	}

	data, err := readLimited(resp.Body, n.maxBytes)
	if err != nil {
		return nil, err
	}

	n.log.Debug("fetched image", logger.String("host", u.Host), logger.Int("bytes", len(data)))
	return decode(data, KindURL, urlExtension(u))
}

func (n *Normalizer) loadDataURI(uri string) (*Image, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, validationError(KindDataURI, "malformed data URI: missing ',' before payload")
	}
	payload := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, uri[comma+1:])
	if payload == "" {
		return nil, validationError(KindDataURI, "malformed data URI: empty payload")
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > n.maxBytes {
		return nil, validationError(KindDataURI, fmt.Sprintf("data URI payload exceeds %d bytes", n.maxBytes))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// tolerate unpadded payloads
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, validationError(KindDataURI, fmt.Sprintf("invalid base64 in data URI: %v", err))
	}
	return decode(data, KindDataURI, "")
}

func (n *Normalizer) loadPath(p string) (*Image, error) {
	if !n.allowLocalPaths {
		return nil, validationError(KindPath, "unsupported image source: expected an http(s) URL or a data:image URI")
	}
	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryValidation
		}
		return nil, errors.New(fmt.Errorf("failed to open image file: %w", err)).
			Component(componentName).
			Category(category).
			Context("source", string(KindPath)).
			Build()
	}
	defer func() { _ = f.Close() }()

	data, err := readLimited(f, n.maxBytes)
	if err != nil {
		return nil, err
	}
	return decode(data, KindPath, normalizeExt(filepath.Ext(p)))
}

// decode checks the header dimensions, then decodes the full image.
func decode(data []byte, kind Kind, ext string) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(kind, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, validationError(kind, fmt.Sprintf("image dimensions %dx%d are not supported", cfg.Width, cfg.Height))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(kind, err)
	}
	if ext == "" {
		ext = formatExtension(format)
	}
	return &Image{Data: data, Image: img, Format: format, Kind: kind, Ext: ext}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read image data: %w", err)).
			Component(componentName).
			Category(errors.CategoryImageFetch).
			Build()
	}
	if int64(len(data)) > limit {
		return nil, validationError(KindBytes, fmt.Sprintf("image exceeds %d bytes", limit))
	}
	return data, nil
}

var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// urlExtension keeps the URL's own extension when it is an image type.
func urlExtension(u *url.URL) string {
	return normalizeExt(path.Ext(u.Path))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if knownExtensions[ext] {
		return ext
	}
	return ""
}

func formatExtension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".img"
	default:
		return "." + format
	}
}

func validationError(kind Kind, msg string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryValidation).
		Context("source", string(kind)).
		Build()
}

func decodeError(kind Kind, err error) error {
	return errors.New(fmt.Errorf("could not decode image: %w", err)).
		Component(componentName).
		Category(errors.CategoryImageDecode).
		Context("source", string(kind)).
		Build()
}
