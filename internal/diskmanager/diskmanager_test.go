package diskmanager

import (
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

// newModTimeManager orders files by modification time so tests can set ages with os.Chtimes.
func newModTimeManager(opts ...Option) *Manager {
	m := New(append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)...)
	m.fileTime = func(_ string, info fs.FileInfo) time.Time { return info.ModTime() }
	return m
}

// writeAgedFiles creates file-00 .. file-(n-1); a higher index is newer. Files are
// written in random order so creation order does not match age.
func writeAgedFiles(t *testing.T, dir string, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, i := range rand.Perm(n) {
		p := filepath.Join(dir, fmt.Sprintf("file-%02d.jpg", i))
		require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x", i+1)), 0o600))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestSweep_KeepsNewest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAgedFiles(t, dir, 10)

	res, err := newModTimeManager().Sweep(dir, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Kept)
	assert.Len(t, res.Deleted, 7)
	assert.Equal(t, "file-00.jpg", res.Deleted[0], "oldest goes first")
	assert.Equal(t, int64(1+2+3+4+5+6+7), res.FreedBytes)
	assert.ElementsMatch(t, []string{"file-07.jpg", "file-08.jpg", "file-09.jpg"}, names(t, dir))
}

func TestSweep_Limits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		files     int
		max       int
		remaining int
	}{
		{"under limit", 4, 50, 4},
		{"exactly at limit", 5, 5, 5},
		{"lean deployment", 6, 2, 2},
		{"zero keeps nothing", 3, 0, 0},
		{"empty directory", 0, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeAgedFiles(t, dir, tt.files)

			res, err := newModTimeManager().Sweep(dir, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, res.Kept)
			assert.Len(t, names(t, dir), tt.remaining)
		})
	}
}

func TestSweep_IgnoresSubdirectoriesAndTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAgedFiles(t, dir, 3)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("partial"), 0o600))

	res, err := newModTimeManager().Sweep(dir, 1)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 2)
	assert.ElementsMatch(t, []string{"file-02.jpg", "nested", tempPrefix + "123"}, names(t, dir))
}

func TestSweep_Errors(t *testing.T) {
	t.Parallel()

	m := newModTimeManager()

	_, err := m.Sweep(t.TempDir(), -1)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = m.Sweep(filepath.Join(t.TempDir(), "missing"), 2)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestSweep_ConcurrentWritersAndSweeps(t *testing.T) {
	t.Parallel()

	const maxFiles = 5
	m := New(WithLogger(logger.NewDiscardLogger()))
	store, err := m.NewStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 10 {
				_, err := store.Save([]byte(fmt.Sprintf("%d-%d", w, i)), ".jpg")
				assert.NoError(t, err)
				_, err = store.Sweep(maxFiles)
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, len(names(t, store.Dir())), maxFiles)
}

func TestSweep_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	dm, err := metrics.NewDiskManagerMetrics(reg)
	require.NoError(t, err)

	dir := t.TempDir()
	writeAgedFiles(t, dir, 4)
	_, err = newModTimeManager(WithMetrics(dm)).Sweep(dir, 1)
	require.NoError(t, err)

	expected := fmt.Sprintf(`
# HELP diskmanager_files_deleted_total Total number of files deleted by retention sweeps
# TYPE diskmanager_files_deleted_total counter
diskmanager_files_deleted_total{dir=%q} 3
`, dir)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "diskmanager_files_deleted_total"))
}

var uuidName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jpg$`)

func TestStore_SaveAndRemove(t *testing.T) {
	t.Parallel()

	m := New(WithLogger(logger.NewDiscardLogger()))
	dir := filepath.Join(t.TempDir(), "detectedImages")
	store, err := m.NewStore(dir)
	require.NoError(t, err)

	name, err := store.Save([]byte("annotated"), "JPG")
	require.NoError(t, err)
	assert.Regexp(t, uuidName, name)

	data, err := os.ReadFile(store.Path(name))
	require.NoError(t, err)
	assert.Equal(t, "annotated", string(data))

	other, err := store.Save([]byte("second"), ".jpg")
	require.NoError(t, err)
	assert.NotEqual(t, name, other)
	assert.Len(t, names(t, dir), 2, "no temporary files are left behind")

	require.NoError(t, store.Remove(name))
	require.NoError(t, store.Remove(name), "removing twice is fine")
	assert.Equal(t, []string{other}, names(t, dir))

	assert.True(t, errors.IsCategory(store.Remove("../etc/passwd"), errors.CategoryValidation))
}

func TestCreationTime(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "a.jpg")
	before := time.Now().Add(-time.Second)
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o600))
	info, err := os.Stat(p)
	require.NoError(t, err)

	ct := creationTime(p, info)
	assert.True(t, ct.After(before), "creation time %v should be recent", ct)
	assert.False(t, ct.After(time.Now().Add(time.Second)))
}

func TestUsage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAgedFiles(t, dir, 2)

	usage, err := newModTimeManager().Usage(t.Context(), dir)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, dir, usage[0].Dir)
	assert.Equal(t, 2, usage[0].Files)
	assert.Positive(t, usage[0].TotalBytes)
}

func TestPoolReuse(t *testing.T) {
	before := currentPoolStats()
	s := getFileInfoSlice()
	*s = append(*s, FileInfo{Name: "x"})
	putFileInfoSlice(s)
	after := currentPoolStats()

	assert.Greater(t, after.GetCount, before.GetCount)
	assert.Greater(t, after.PutCount, before.PutCount)
}
