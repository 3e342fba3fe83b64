package collect

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/legitcheck/internal/config"
	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/fetch"
)

// fakeSource implements Source for testing.
type fakeSource struct {
	posts       []Post
	comments    map[string][]string
	commentErrs map[string]error
	listErr     error
	yielded     int
}

func (s *fakeSource) Posts(_ context.Context) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		for _, p := range s.posts {
			s.yielded++
			if !yield(p, nil) {
				return
			}
		}
		if s.listErr != nil {
			yield(Post{}, s.listErr)
		}
	}
}

func (s *fakeSource) Comments(_ context.Context, postID string) ([]string, error) {
	if err := s.commentErrs[postID]; err != nil {
		return nil, err
	}
	return s.comments[postID], nil
}

var created = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func singlePost(id, url string) Post {
	return Post{ID: id, Title: "post " + id, CreatedUTC: created, URL: url}
}

func galleryPost(id string, urls ...string) Post {
	p := Post{ID: id, Title: "gallery " + id, CreatedUTC: created, IsGallery: true}
	for i, u := range urls {
		p.Gallery = append(p.Gallery, MediaItem{Index: i + 1, URL: u, OK: true})
	}
	return p
}

type harness struct {
	cfg     *config.Config
	db      *database.DB
	staging string
	images  *httptest.Server
}

// newHarness serves image bytes for any path except /missing*.
func newHarness(t *testing.T) *harness {
	t.Helper()
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image:" + r.URL.Path))
	}))
	t.Cleanup(images.Close)

	dataDir := t.TempDir()
	db, err := database.Open(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Output.DataDir = dataDir
	cfg.Collector.Seed = 42

	return &harness{cfg: cfg, db: db, staging: t.TempDir(), images: images}
}

func (h *harness) url(p string) string {
	return h.images.URL + p
}

func (h *harness) collector(src Source) *Collector {
	return NewCollector(h.cfg, h.db, src, fetch.NewDownloader(h.staging, time.Second))
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Base(p) != LogJSON && filepath.Base(p) != LogCSV {
			n++
		}
		return nil
	})
	return n
}

func TestCollectRoutesByVerdict(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{
		posts: []Post{
			galleryPost("r1", h.url("/a.jpg"), h.url("/b.png")),
			singlePost("f1", h.url("/c.png")),
			singlePost("u1", h.url("/d.jpg")),
			singlePost("r2", "https://example.com/some-article"),
		},
		comments: map[string][]string{
			"r1": {"legit", "authentic for sure", "fake?"},
			"f1": {"replica", "fake"},
			"u1": {"fake", "real"},
			"r2": {"genuine"},
		},
	}

	c := h.collector(src)
	run, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Counts != (Counts{Real: 2, Fake: 1, Uncertain: 1}) {
		t.Errorf("unexpected counts: %+v", run.Counts)
	}
	if run.ImagesDownloaded != 4 {
		t.Errorf("expected 4 images downloaded, got %d", run.ImagesDownloaded)
	}
	if len(run.Log) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(run.Log))
	}

	root := c.Root()
	for _, e := range run.Log {
		var dir string
		if e.Classification == "Uncertain" {
			dir = filepath.Join(root, TestDataDir)
		} else {
			dir = filepath.Join(root, e.DatasetSplit, e.Classification)
		}
		matches, _ := filepath.Glob(filepath.Join(dir, e.PostID+"_img*"))
		if len(matches) == 0 {
			t.Errorf("expected a file for %s in %s", e.PostID, dir)
		}
		if e.Timestamp != "2025-01-02 03:04:05" {
			t.Errorf("unexpected timestamp %q", e.Timestamp)
		}
		switch e.DatasetSplit {
		case SplitTrain, SplitVal, SplitTest:
		default:
			t.Errorf("unexpected split %q", e.DatasetSplit)
		}
	}

	if _, err := os.Stat(filepath.Join(root, TestDataDir, "u1_img1.jpg")); err != nil {
		t.Errorf("expected uncertain image in Test_Data: %v", err)
	}
	if n := countFiles(t, root); n != len(run.Log) {
		t.Errorf("expected %d files in dataset, found %d", len(run.Log), n)
	}

	jsonLog, err := ReadLogJSON(root)
	if err != nil {
		t.Fatalf("ReadLogJSON: %v", err)
	}
	csvLog, err := ReadLogCSV(root)
	if err != nil {
		t.Fatalf("ReadLogCSV: %v", err)
	}
	if len(jsonLog) != 4 || len(csvLog) != 4 {
		t.Fatalf("expected 4 rows in both logs, got %d and %d", len(jsonLog), len(csvLog))
	}
	for i := range jsonLog {
		if jsonLog[i] != csvLog[i] {
			t.Errorf("row %d differs: %+v vs %+v", i, jsonLog[i], csvLog[i])
		}
	}

	stats, _ := h.db.GetStats()
	if stats.PostsRetained != 4 || stats.Images != 4 {
		t.Errorf("unexpected ledger stats: %+v", stats)
	}
	p, _ := h.db.GetPost("r2")
	if p == nil || p.Classification != "Real" || p.Status != database.StatusRetained {
		t.Errorf("expected image-less post to be recorded as retained Real, got %+v", p)
	}
}

func TestCollectQuotaDiscards(t *testing.T) {
	h := newHarness(t)
	h.cfg.Collector.MaxReal = 1
	src := &fakeSource{
		posts: []Post{
			singlePost("r1", h.url("/a.jpg")),
			singlePost("r2", h.url("/b.jpg")),
			singlePost("f1", h.url("/c.jpg")),
		},
		comments: map[string][]string{
			"r1": {"legit"},
			"r2": {"legit"},
			"f1": {"fake"},
		},
	}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Counts.Real != 1 || run.Counts.Fake != 1 {
		t.Errorf("unexpected counts: %+v", run.Counts)
	}
	if run.Discarded != 1 {
		t.Errorf("expected 1 discarded post, got %d", run.Discarded)
	}
	if run.ImagesDownloaded != 3 {
		t.Errorf("expected discarded downloads to still count, got %d", run.ImagesDownloaded)
	}
	if len(run.Log) != 2 {
		t.Errorf("expected 2 log entries, got %d", len(run.Log))
	}
	if _, err := os.Stat(filepath.Join(h.staging, "r2_img1.jpg")); !os.IsNotExist(err) {
		t.Error("expected discarded image to be deleted")
	}

	p, _ := h.db.GetPost("r2")
	if p == nil || p.Status != database.StatusDiscarded {
		t.Errorf("expected r2 recorded as discarded, got %+v", p)
	}
}

func TestCollectStopsWhenAllQuotasMet(t *testing.T) {
	h := newHarness(t)
	h.cfg.Collector.MaxReal = 1
	h.cfg.Collector.MaxFake = 0
	h.cfg.Collector.MaxUncertain = 0
	src := &fakeSource{
		posts: []Post{
			singlePost("r1", h.url("/a.jpg")),
			singlePost("r2", h.url("/b.jpg")),
			singlePost("r3", h.url("/c.jpg")),
		},
		comments: map[string][]string{"r1": {"legit"}, "r2": {"legit"}, "r3": {"legit"}},
	}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.yielded != 1 {
		t.Errorf("expected the source to stop after 1 post, yielded %d", src.yielded)
	}
	if run.Counts.Real != 1 {
		t.Errorf("expected 1 Real, got %d", run.Counts.Real)
	}
}

func TestCollectZeroQuotasReadsNothing(t *testing.T) {
	h := newHarness(t)
	h.cfg.Collector.MaxReal = 0
	h.cfg.Collector.MaxFake = 0
	h.cfg.Collector.MaxUncertain = 0
	src := &fakeSource{posts: []Post{singlePost("r1", h.url("/a.jpg"))}}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.yielded != 0 {
		t.Errorf("expected no posts read, got %d", src.yielded)
	}
	entries, err := ReadLogJSON(h.cfg.DatasetRoot())
	if err != nil {
		t.Fatalf("expected log to be written: %v", err)
	}
	if len(entries) != 0 || run.ImagesDownloaded != 0 {
		t.Errorf("expected empty run, got %d entries", len(entries))
	}
}

func TestCollectSkipsSeenPosts(t *testing.T) {
	h := newHarness(t)
	newSrc := func() *fakeSource {
		return &fakeSource{
			posts:    []Post{singlePost("r1", h.url("/a.jpg")), singlePost("f1", h.url("/b.jpg"))},
			comments: map[string][]string{"r1": {"legit"}, "f1": {"fake"}},
		}
	}

	if _, err := h.collector(newSrc()).Collect(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	run, err := h.collector(newSrc()).Collect(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run.Skipped != 2 || run.Processed != 0 {
		t.Errorf("expected both posts skipped, got skipped=%d processed=%d", run.Skipped, run.Processed)
	}
	if run.ImagesDownloaded != 0 {
		t.Errorf("expected no downloads for seen posts, got %d", run.ImagesDownloaded)
	}
}

func TestCollectRetriesDiscardedPosts(t *testing.T) {
	h := newHarness(t)
	newSrc := func() *fakeSource {
		return &fakeSource{
			posts:    []Post{singlePost("r1", h.url("/a.jpg")), singlePost("f1", h.url("/b.jpg"))},
			comments: map[string][]string{"r1": {"legit"}, "f1": {"fake"}},
		}
	}

	h.cfg.Collector.MaxFake = 0
	first, err := h.collector(newSrc()).Collect(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Discarded != 1 {
		t.Fatalf("expected f1 discarded for quota, got %d discarded", first.Discarded)
	}

	h.cfg.Collector.MaxFake = 10
	run, err := h.collector(newSrc()).Collect(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run.Skipped != 1 || run.Counts.Fake != 1 {
		t.Errorf("expected r1 skipped and f1 retained, got skipped=%d counts=%+v", run.Skipped, run.Counts)
	}
	post, err := h.db.GetPost("f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Status != database.StatusRetained {
		t.Errorf("expected f1 to be retained after retry, got %s", post.Status)
	}
}

func TestCollectDeferredDownloads(t *testing.T) {
	h := newHarness(t)
	h.cfg.Collector.DeferDownloads = true
	h.cfg.Collector.MaxReal = 0
	src := &fakeSource{
		posts: []Post{
			singlePost("r1", h.url("/a.jpg")),
			singlePost("f1", h.url("/b.jpg")),
		},
		comments: map[string][]string{"r1": {"legit"}, "f1": {"fake"}},
	}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ImagesDownloaded != 1 {
		t.Errorf("expected only the retained post to be downloaded, got %d", run.ImagesDownloaded)
	}
	if run.Discarded != 1 || run.Counts.Fake != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestCollectDownloadFailureSkipsImage(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{
		posts:    []Post{galleryPost("r1", h.url("/missing.jpg"), h.url("/ok.jpg"))},
		comments: map[string][]string{"r1": {"legit"}},
	}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ImagesDownloaded != 1 || len(run.Log) != 1 {
		t.Errorf("expected 1 image, got downloaded=%d log=%d", run.ImagesDownloaded, len(run.Log))
	}
	if !strings.HasSuffix(run.Log[0].ImageURL, "/ok.jpg") {
		t.Errorf("unexpected logged URL %q", run.Log[0].ImageURL)
	}
	if run.Counts.Real != 1 {
		t.Errorf("expected post still counted, got %+v", run.Counts)
	}
}

func TestCollectCommentErrorSkipsPost(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{
		posts:       []Post{singlePost("r1", h.url("/a.jpg"))},
		commentErrs: map[string]error{"r1": errors.New("HTTP 503")},
	}

	run, err := h.collector(src).Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Processed != 0 || len(run.Log) != 0 {
		t.Errorf("expected post to be skipped, got %+v", run)
	}
	if _, err := os.Stat(filepath.Join(h.staging, "r1_img1.jpg")); !os.IsNotExist(err) {
		t.Error("expected staged image to be removed")
	}
	if seen, _ := h.db.HasPost("r1"); seen {
		t.Error("expected post not to be recorded so a later run retries it")
	}
}

func TestCollectListErrorStillWritesLog(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{
		posts:    []Post{singlePost("r1", h.url("/a.jpg"))},
		comments: map[string][]string{"r1": {"legit"}},
		listErr:  errors.New("HTTP 429"),
	}

	run, err := h.collector(src).Collect(context.Background())
	if err == nil {
		t.Fatal("expected listing error")
	}
	if run == nil || run.Counts.Real != 1 {
		t.Fatalf("expected partial run to be returned, got %+v", run)
	}
	entries, err := ReadLogCSV(h.cfg.DatasetRoot())
	if err != nil {
		t.Fatalf("expected log to be written: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(entries))
	}
}

func TestCollectCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{
		posts:    []Post{singlePost("r1", h.url("/a.jpg")), singlePost("r2", h.url("/b.jpg"))},
		comments: map[string][]string{"r1": {"legit"}, "r2": {"legit"}},
	}

	run, err := h.collector(src).Collect(ctx)
	if err != nil {
		t.Fatalf("expected cancellation to end the run cleanly, got %v", err)
	}
	if src.yielded > 1 {
		t.Errorf("expected collection to stop after the first post, yielded %d", src.yielded)
	}
	if _, err := ReadLogJSON(h.cfg.DatasetRoot()); err != nil {
		t.Errorf("expected log to be written: %v", err)
	}
	if run.Counts.Real != 0 {
		t.Errorf("expected nothing retained, got %+v", run.Counts)
	}
}
