package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tyxk8160/mathtag"
	"github.com/tyxk8160/mathtag/internal/cache"
	"github.com/tyxk8160/mathtag/internal/metrics"
	"github.com/tyxk8160/mathtag/internal/watch"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func setupSite(t *testing.T) string {
	t.Helper()
	input := t.TempDir()
	writeFile(t, filepath.Join(input, "index.html"), `<html><body><p>Euler: $e^{i\pi}+1=0$</p></body></html>`)
	writeFile(t, filepath.Join(input, "guide", "orbits.htm"), `<html><body>$$T^2 = a^3$$<pre>$raw$</pre></body></html>`)
	writeFile(t, filepath.Join(input, "notes.txt"), `$not html$`)
	return input
}

func TestRunWritesOutput(t *testing.T) {
	input := setupSite(t)
	output := t.TempDir()

	b := New(mathtag.New(), nil, nil, nil)
	report, err := b.Run(context.Background(), Options{Input: input, Output: output, Workers: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Files != 2 || report.Written != 2 {
		t.Errorf("Expected 2 files written, got %+v", report)
	}
	if report.Result.InlineSpans != 1 || report.Result.BlockSpans != 1 {
		t.Errorf("Unexpected span totals: %+v", report.Result)
	}

	index := readFile(t, filepath.Join(output, "index.html"))
	if !strings.Contains(index, `<i-math>e^{i\pi}+1=0</i-math>`) {
		t.Errorf("Unexpected index output: %s", index)
	}
	orbits := readFile(t, filepath.Join(output, "guide", "orbits.htm"))
	if !strings.Contains(orbits, `<tex-math>T^2 = a^3</tex-math>`) || !strings.Contains(orbits, `<pre>$raw$</pre>`) {
		t.Errorf("Unexpected orbits output: %s", orbits)
	}
	if _, err := os.Stat(filepath.Join(output, "notes.txt")); !os.IsNotExist(err) {
		t.Error("Expected non-HTML files to be ignored")
	}

	// Sources stay untouched
	if got := readFile(t, filepath.Join(input, "index.html")); strings.Contains(got, "i-math") {
		t.Error("Expected source to be unchanged")
	}
}

func TestRunUsesCache(t *testing.T) {
	input := setupSite(t)
	output := t.TempDir()
	ctx := context.Background()

	c, err := cache.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer c.Close()

	collector := metrics.NewCollector()
	b := New(mathtag.New(), c, collector, nil)
	opts := Options{Input: input, Output: output, Workers: 2, Fingerprint: "v1"}

	if _, err := b.Run(ctx, opts); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	report, err := b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if report.Cached != 2 || report.Written != 0 {
		t.Errorf("Expected everything cached on second run, got %+v", report)
	}

	// Touching a source invalidates just that file
	writeFile(t, filepath.Join(input, "index.html"), `<html><body>$changed$</body></html>`)
	report, err = b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("third Run failed: %v", err)
	}
	if report.Written != 1 || report.Cached != 1 {
		t.Errorf("Expected one rebuilt file, got %+v", report)
	}

	// New settings invalidate everything
	opts.Fingerprint = "v2"
	report, err = b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("fourth Run failed: %v", err)
	}
	if report.Written != 2 {
		t.Errorf("Expected full rebuild after settings change, got %+v", report)
	}

	m := collector.GetMetrics()
	if m.CacheHits != 3 || m.CacheMisses != 5 {
		t.Errorf("Expected 3 hits and 5 misses, got %d and %d", m.CacheHits, m.CacheMisses)
	}
}

func TestRunRebuildsMissingOutput(t *testing.T) {
	input := setupSite(t)
	output := t.TempDir()
	ctx := context.Background()

	c, err := cache.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer c.Close()

	b := New(mathtag.New(), c, nil, nil)
	opts := Options{Input: input, Output: output, Workers: 1}
	if _, err := b.Run(ctx, opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := os.Remove(filepath.Join(output, "index.html")); err != nil {
		t.Fatalf("Failed to remove output: %v", err)
	}

	report, err := b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Written != 1 {
		t.Errorf("Expected deleted output to be rebuilt, got %+v", report)
	}
}

func TestRunInPlace(t *testing.T) {
	input := setupSite(t)
	ctx := context.Background()

	c, err := cache.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	defer c.Close()

	b := New(mathtag.New(), c, nil, nil)
	opts := Options{Input: input, Workers: 2}

	if _, err := b.Run(ctx, opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := readFile(t, filepath.Join(input, "index.html")); !strings.Contains(got, "<i-math>") {
		t.Errorf("Expected in-place rewrite, got %s", got)
	}

	report, err := b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Cached != 2 {
		t.Errorf("Expected rewritten files to be recognized as fresh, got %+v", report)
	}
}

func TestRunInPlaceWithoutCache(t *testing.T) {
	input := setupSite(t)
	ctx := context.Background()
	b := New(mathtag.New(), nil, nil, nil)
	opts := Options{Input: input, Workers: 2}

	report, err := b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Written != 2 {
		t.Errorf("Expected 2 files written, got %+v", report)
	}

	index := filepath.Join(input, "index.html")
	before, err := os.Stat(index)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	// Let a rewrite show up as a newer mtime
	time.Sleep(20 * time.Millisecond)

	report, err = b.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Written != 0 || report.Unchanged != 2 {
		t.Errorf("Expected rewritten files to be left alone, got %+v", report)
	}

	after, err := os.Stat(index)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("Expected unchanged file not to be written again")
	}
}

func TestWatchInPlaceWithoutCacheSettles(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := t.TempDir()
	b := New(mathtag.New(), nil, nil, nil)
	opts := Options{Input: input, Workers: 1}

	var rebuilds int64
	handler := func(ctx context.Context, paths []string) {
		var rels []string
		for _, p := range paths {
			if rel, err := filepath.Rel(input, p); err == nil {
				rels = append(rels, rel)
			}
		}
		atomic.AddInt64(&rebuilds, 1)
		if _, err := b.Files(ctx, opts, rels); err != nil {
			t.Errorf("Files failed: %v", err)
		}
	}

	w, err := watch.New(input, handler, watch.WithFilter(IsHTML), watch.WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("watch.New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	page := filepath.Join(input, "page.html")
	writeFile(t, page, `<p>$x$</p>`)

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(readFile(t, page), "<i-math>x</i-math>") {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for in-place rebuild")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The rebuild's own write may trigger one more pass, which must not write
	time.Sleep(500 * time.Millisecond)
	settled := atomic.LoadInt64(&rebuilds)
	time.Sleep(500 * time.Millisecond)
	if got := atomic.LoadInt64(&rebuilds); got != settled {
		t.Errorf("Expected rebuilds to stop at %d, got %d", settled, got)
	}
	if settled > 3 {
		t.Errorf("Expected at most 3 rebuilds, got %d", settled)
	}
}

func TestRunSkipsNestedOutput(t *testing.T) {
	input := setupSite(t)
	output := filepath.Join(input, "public")
	b := New(mathtag.New(), nil, nil, nil)

	if _, err := b.Run(context.Background(), Options{Input: input, Output: output}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	report, err := b.Run(context.Background(), Options{Input: input, Output: output})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Files != 2 {
		t.Errorf("Expected output directory to be skipped, saw %d files", report.Files)
	}
}

func TestRunCancelled(t *testing.T) {
	input := setupSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := New(mathtag.New(), nil, nil, nil)
	_, err := b.Run(ctx, Options{Input: input, Output: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunForcedEncoding(t *testing.T) {
	input := t.TempDir()
	writeFile(t, filepath.Join(input, "latin.html"), "<p>\xe9t\xe9 $x$</p>")
	output := t.TempDir()

	b := New(mathtag.New(), nil, nil, nil)
	if _, err := b.Run(context.Background(), Options{Input: input, Output: output, Encoding: "latin1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := readFile(t, filepath.Join(output, "latin.html")); !strings.Contains(got, "été <i-math>x</i-math>") {
		t.Errorf("Expected decoded output, got %s", got)
	}
}

func TestRunMissingInput(t *testing.T) {
	b := New(mathtag.New(), nil, nil, nil)
	if _, err := b.Run(context.Background(), Options{Input: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("Expected error for missing input")
	}
}

func TestIsHTML(t *testing.T) {
	for path, expected := range map[string]bool{
		"a.html":     true,
		"b/c.HTM":    true,
		"d.txt":      false,
		"e.html.bak": false,
	} {
		if got := IsHTML(path); got != expected {
			t.Errorf("IsHTML(%q) = %v, expected %v", path, got, expected)
		}
	}
}
