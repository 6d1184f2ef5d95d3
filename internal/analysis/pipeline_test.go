package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroguard/pestwatch/internal/detector"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/httpclient"
	"github.com/hydroguard/pestwatch/internal/imagesource"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

type stubDetector struct {
	mu       sync.Mutex
	dets     []detector.Detection
	err      error
	payloads [][]byte
}

func (d *stubDetector) Detect(_ context.Context, img []byte) ([]detector.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, img)
	return d.dets, d.err
}

func (d *stubDetector) Healthy(context.Context) bool { return d.err == nil }

type stubRecords struct {
	updates map[recordstore.Key]recordstore.DetectionUpdate
	err     error
}

func (s *stubRecords) Latest(context.Context) (*recordstore.Record, error) { return nil, nil }

func (s *stubRecords) Update(_ context.Context, key recordstore.Key, upd recordstore.DetectionUpdate) error {
	if s.err != nil {
		return s.err
	}
	if s.updates == nil {
		s.updates = map[recordstore.Key]recordstore.DetectionUpdate{}
	}
	s.updates[key] = upd
	return nil
}

func (s *stubRecords) Get(context.Context, recordstore.Key) (*recordstore.Record, error) {
	return nil, errors.Newf("not found").Category(errors.CategoryNotFound).Build()
}

func (s *stubRecords) Watch(context.Context) (<-chan recordstore.Event, error) { return nil, nil }

type recordingObserver struct {
	results []*Result
}

func (o *recordingObserver) Observe(_ context.Context, res *Result) { o.results = append(o.results, res) }

type fixture struct {
	proc    *Processor
	det     *stubDetector
	mock    *httpmock.MockTransport
	uploads string
	outputs string
	obs     *recordingObserver
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	mgr := diskmanager.New(diskmanager.WithLogger(logger.NewDiscardLogger()))
	uploads, err := mgr.NewStore(filepath.Join(root, "images"))
	require.NoError(t, err)
	outputs, err := mgr.NewStore(filepath.Join(root, "detectedImages"))
	require.NoError(t, err)

	client := httpclient.New(nil)
	t.Cleanup(client.Close)
	mock := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mock
	nz := imagesource.New(client, imagesource.WithLogger(logger.NewDiscardLogger()))

	det := &stubDetector{}
	obs := &recordingObserver{}
	opts = append([]Option{WithLogger(logger.NewDiscardLogger()), WithObservers(obs)}, opts...)
	proc, err := NewProcessor(cfg, nz, det, uploads, outputs, opts...)
	require.NoError(t, err)

	return &fixture{proc: proc, det: det, mock: mock, uploads: uploads.Dir(), outputs: outputs.Dir(), obs: obs}
}

func encode(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "gif":
		require.NoError(t, gif.Encode(&buf, img, nil))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestProcessUpload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50, KeepUploads: true})
	f.det.dets = []detector.Detection{
		{Box: [4]int{2, 2, 20, 20}, Score: 0.93, Label: "ulat"},
		{Box: [4]int{30, 30, 500, 500}, Score: 0.7, Label: "daun"},
	}

	res, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "jpeg", 64, 48)), "http://localhost:8001/")
	require.NoError(t, err)

	assert.True(t, res.PestPresent)
	assert.Equal(t, "true", res.PestFlag())
	require.Len(t, res.Detections, 2)
	assert.Equal(t, [4]int{30, 30, 64, 48}, res.Detections[1].Box, "boxes are clamped to the image")
	assert.Equal(t, "http://localhost:8001/detectedImages/"+res.OutputFile, res.PhotoURL)
	assert.Equal(t, imagesource.KindBytes, res.Source)
	assert.Equal(t, 64, res.Width)

	assert.Equal(t, []string{res.OutputFile}, dirNames(t, f.outputs))
	assert.Equal(t, []string{res.UploadFile}, dirNames(t, f.uploads))

	annotated, err := os.ReadFile(filepath.Join(f.outputs, res.OutputFile))
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(annotated))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	require.Len(t, f.obs.results, 1)
	assert.Same(t, res, f.obs.results[0])
}

func TestProcessUpload_NoPest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50, PublicURL: "https://pests.example/"})
	f.det.dets = []detector.Detection{{Box: [4]int{1, 1, 5, 5}, Score: 0.8, Label: "Ulat"}}

	res, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "png", 16, 16)), "")
	require.NoError(t, err)
	assert.False(t, res.PestPresent, "label match is exact")
	assert.Equal(t, "false", res.PestFlag())
	assert.Equal(t, "https://pests.example/detectedImages/"+res.OutputFile, res.PhotoURL)
}

func TestProcessUpload_KeepsDetectionsOutsideImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50})
	f.det.dets = []detector.Detection{
		{Box: [4]int{100, 100, 120, 120}, Score: 0.6, Label: "ulat"},
		{Box: [4]int{3, 3, 3, 9}, Score: 0.5, Label: "daun"},
	}

	res, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "jpeg", 32, 32)), "http://h")
	require.NoError(t, err)
	require.Len(t, res.Detections, 2, "every model detection is reported")
	assert.Equal(t, [4]int{32, 32, 32, 32}, res.Detections[0].Box)
	assert.True(t, res.PestPresent)
	assert.Equal(t, "true", res.PestFlag())
}

func TestProcess_DiscardsUploadsWhenNotKept(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50, KeepUploads: false})
	res, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "jpeg", 8, 8)), "http://h")
	require.NoError(t, err)

	assert.Empty(t, res.UploadFile)
	assert.Empty(t, dirNames(t, f.uploads))
	assert.NotNil(t, res.Detections)
	assert.Empty(t, res.Detections)
}

func TestProcess_Retention(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 2, KeepUploads: true})
	var last *Result
	for range 5 {
		res, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "jpeg", 8, 8)), "http://h")
		require.NoError(t, err)
		last = res
	}

	assert.Len(t, dirNames(t, f.uploads), 2)
	outputs := dirNames(t, f.outputs)
	assert.Len(t, outputs, 2)
	assert.Contains(t, outputs, last.OutputFile)
}

func TestProcessSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50, KeepUploads: true})
	f.mock.RegisterResponder(http.MethodGet, "https://cam.local/snap.png",
		httpmock.NewBytesResponder(http.StatusOK, encode(t, "png", 10, 10)))

	res, err := f.proc.ProcessSource(t.Context(), "https://cam.local/snap.png", "http://h")
	require.NoError(t, err)
	assert.Equal(t, imagesource.KindURL, res.Source)
	assert.Equal(t, ".png", filepath.Ext(res.UploadFile), "URL uploads keep the URL extension")

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encode(t, "png", 4, 4))
	res, err = f.proc.ProcessSource(t.Context(), uri, "http://h")
	require.NoError(t, err)
	assert.Equal(t, imagesource.KindDataURI, res.Source)
}

func TestProcess_ReencodesUnusualFormats(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50})
	_, err := f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "gif", 8, 8)), "http://h")
	require.NoError(t, err)

	require.Len(t, f.det.payloads, 1)
	_, format, err := image.DecodeConfig(bytes.NewReader(f.det.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestProcess_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50})

	_, err := f.proc.ProcessUpload(t.Context(), strings.NewReader("not an image"), "http://h")
	assert.True(t, errors.IsClientError(err))

	_, err = f.proc.ProcessSource(t.Context(), "data:image/png;base64", "http://h")
	assert.True(t, errors.IsClientError(err))

	f.det.err = errors.Newf("inference failed").Category(errors.CategoryDetector).Build()
	_, err = f.proc.ProcessUpload(t.Context(), bytes.NewReader(encode(t, "jpeg", 8, 8)), "http://h")
	assert.True(t, errors.IsCategory(err, errors.CategoryDetector))
	assert.Empty(t, dirNames(t, f.outputs))
	assert.Empty(t, dirNames(t, f.uploads), "the original is discarded even when detection fails")
	assert.Empty(t, f.obs.results)
}

func TestDetectRecord(t *testing.T) {
	t.Parallel()

	records := &stubRecords{}
	f := newFixture(t, Config{MaxFiles: 50, PublicURL: "http://api.local"}, WithRecordStore(records))
	f.det.dets = []detector.Detection{{Box: [4]int{0, 0, 4, 4}, Score: 0.6, Label: "ulat"}}
	f.mock.RegisterResponder(http.MethodGet, "https://cdn.local/cam/0830.jpg",
		httpmock.NewBytesResponder(http.StatusOK, encode(t, "jpeg", 12, 12)))

	key := recordstore.Key{Date: "2026-10-15", Time: "08:30:00"}
	require.NoError(t, f.proc.ProcessRecord(t.Context(), &recordstore.Record{Key: key, Photo: "https://cdn.local/cam/0830.jpg"}))

	upd, ok := records.updates[key]
	require.True(t, ok)
	assert.True(t, upd.PestPresent)
	assert.Regexp(t, `^http://api\.local/detectedImages/[0-9a-f-]+\.jpg$`, upd.PhotoDetected)

	require.Len(t, f.obs.results, 1)
	assert.Equal(t, &key, f.obs.results[0].Record)
}

func TestDetectRecord_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxFiles: 50})
	_, err := f.proc.DetectRecord(t.Context(), &recordstore.Record{Photo: "x"}, "")
	assert.True(t, errors.IsCategory(err, errors.CategoryUnavailable))

	records := &stubRecords{err: errors.Newf("denied").Category(errors.CategoryRecordStore).Build()}
	f = newFixture(t, Config{MaxFiles: 50}, WithRecordStore(records))
	_, err = f.proc.DetectRecord(t.Context(), &recordstore.Record{Key: recordstore.Key{Date: "d", Time: "t"}}, "")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encode(t, "png", 4, 4))
	res, err := f.proc.DetectRecord(t.Context(), &recordstore.Record{Key: recordstore.Key{Date: "d", Time: "t"}, Photo: uri}, "")
	assert.True(t, errors.IsCategory(err, errors.CategoryRecordStore))
	assert.NotNil(t, res, "the stored result is returned even when write-back fails")
	assert.Empty(t, f.obs.results)
}

func TestNewProcessor_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor(Config{}, nil, nil, nil, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
