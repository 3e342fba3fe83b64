package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func TestCollectionRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertCollectionRun("run1", "VETEMENTS"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := db.FinishCollectionRun(CollectionRun{
		ID: "run1", RealCount: 2, FakeCount: 1, UncertainCount: 3,
		PostsProcessed: 7, PostsDiscarded: 1, ImagesDownloaded: 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run, err := db.GetCollectionRun("run1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run == nil {
		t.Fatal("expected run")
	}
	if run.RealCount != 2 || run.UncertainCount != 3 || run.ImagesDownloaded != 9 {
		t.Errorf("unexpected counters: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestGetCollectionRunMissing(t *testing.T) {
	db := openTestDB(t)
	run, err := db.GetCollectionRun("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Error("expected nil for missing run")
	}
}

func TestInsertPostAndDuplicate(t *testing.T) {
	db := openTestDB(t)
	db.InsertCollectionRun("run1", "VETEMENTS")

	p := Post{
		ID: "abc123", RunID: ptr("run1"), Title: "LC on this hoodie?",
		CreatedUTC: "2025-01-02 03:04:05", Classification: "Real",
		RealMatches: 2, FakeMatches: 1, CommentCount: 4,
		DatasetSplit: ptr("train"), Status: StatusRetained,
	}
	inserted, err := db.InsertPost(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Error("expected first insert to succeed")
	}

	inserted, err = db.InsertPost(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Error("expected duplicate insert to be ignored")
	}

	seen, _ := db.HasPost("abc123")
	if !seen {
		t.Error("expected HasPost to be true")
	}
	seen, _ = db.HasPost("other")
	if seen {
		t.Error("expected HasPost to be false for unknown post")
	}

	got, err := db.GetPost("abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Classification != "Real" || got.DatasetSplit == nil || *got.DatasetSplit != "train" {
		t.Errorf("unexpected post: %+v", got)
	}
}

func TestInsertPostRejectsUnknownClassification(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertPost(Post{
		ID: "x", Title: "t", CreatedUTC: "2025-01-02 03:04:05",
		Classification: "Maybe", Status: StatusRetained,
	})
	if err == nil {
		t.Error("expected CHECK constraint violation")
	}

	_, err = db.InsertPost(Post{
		ID: "y", Title: "t", CreatedUTC: "2025-01-02 03:04:05",
		Classification: "Real", Status: "pending",
	})
	if err == nil {
		t.Error("expected CHECK constraint violation for status")
	}
	if seen, _ := db.HasPost("x"); seen {
		t.Error("expected rejected post not to be stored")
	}
}

func TestInsertPostReplacesDiscarded(t *testing.T) {
	db := openTestDB(t)
	db.InsertCollectionRun("run1", "VETEMENTS")
	db.InsertCollectionRun("run2", "VETEMENTS")

	p := Post{
		ID: "q1", RunID: ptr("run1"), Title: "t", CreatedUTC: "2025-01-02 03:04:05",
		Classification: "Fake", Status: StatusDiscarded,
	}
	if _, err := db.InsertPost(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen, _ := db.HasPost("q1"); !seen {
		t.Error("expected discarded post to be recorded")
	}
	if kept, _ := db.HasRetainedPost("q1"); kept {
		t.Error("expected discarded post not to count as retained")
	}

	p.RunID, p.Status, p.DatasetSplit = ptr("run2"), StatusRetained, ptr("val")
	inserted, err := db.InsertPost(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Error("expected retained post to replace the discarded one")
	}
	got, _ := db.GetPost("q1")
	if got.Status != StatusRetained || got.RunID == nil || *got.RunID != "run2" {
		t.Errorf("unexpected post after replacement: %+v", got)
	}

	p.Status = StatusDiscarded
	if inserted, _ := db.InsertPost(p); inserted {
		t.Error("expected retained post to be kept")
	}
	if kept, _ := db.HasRetainedPost("q1"); !kept {
		t.Error("expected post to stay retained")
	}
}

func TestImagesForRun(t *testing.T) {
	db := openTestDB(t)
	db.InsertCollectionRun("run1", "VETEMENTS")
	db.InsertPost(Post{ID: "p1", RunID: ptr("run1"), Title: "t", CreatedUTC: "2025-01-02 03:04:05",
		Classification: "Fake", DatasetSplit: ptr("val"), Status: StatusRetained})

	for _, u := range []string{"https://i.redd.it/a.jpg", "https://i.redd.it/b.png"} {
		if _, err := db.InsertImage(Image{
			PostID: "p1", RunID: ptr("run1"), URL: u, Path: "/tmp/x",
			Classification: "Fake", DatasetSplit: "val", PostTimestamp: "2025-01-02 03:04:05",
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	images, err := db.GetImagesForRun("run1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].URL != "https://i.redd.it/a.jpg" {
		t.Errorf("expected insertion order, got %q first", images[0].URL)
	}
}

func TestTrainingLifecycle(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertTrainingRun("tr1", 2, "/tmp/best_model.json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := []Epoch{
		{RunID: "tr1", Epoch: 1, Phase: "train", Loss: 0.7, Accuracy: 50},
		{RunID: "tr1", Epoch: 1, Phase: "val", Loss: 0.6, Accuracy: 60, Saved: true},
		{RunID: "tr1", Epoch: 2, Phase: "train", Loss: 0.5, Accuracy: 70},
		{RunID: "tr1", Epoch: 2, Phase: "val", Loss: 0.65, Accuracy: 55},
	}
	for _, e := range rows {
		if err := db.InsertEpoch(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := db.FinishTrainingRun("tr1", 0.6, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	epochs, err := db.GetEpochs("tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(epochs) != 4 {
		t.Fatalf("expected 4 epoch rows, got %d", len(epochs))
	}
	if epochs[0].Phase != "train" || epochs[1].Phase != "val" || !epochs[1].Saved {
		t.Errorf("unexpected ordering or saved flag: %+v", epochs[:2])
	}

	run, err := db.GetLatestTrainingRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run == nil || run.BestEpoch == nil || *run.BestEpoch != 1 {
		t.Errorf("unexpected training run: %+v", run)
	}
}

func TestEvaluationRoundTrip(t *testing.T) {
	db := openTestDB(t)

	none, err := db.GetLatestEvaluation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Error("expected nil evaluation on empty ledger")
	}

	report := "# Evaluation"
	_, err = db.InsertEvaluation(Evaluation{
		Checkpoint: "best_model.json", Total: 10, Accuracy: 80,
		Precision: 0.8, Recall: 0.75, F1: 0.77,
		Confusion: [][]int{{4, 1}, {1, 4}}, ReportMarkdown: &report,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, err := db.GetLatestEvaluation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Confusion[0][1] != 1 || e.Confusion[1][1] != 4 {
		t.Errorf("unexpected confusion matrix: %v", e.Confusion)
	}
	if e.ReportMarkdown == nil || *e.ReportMarkdown != report {
		t.Error("expected report markdown to round-trip")
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.PostsProcessed != 0 {
		t.Errorf("expected 0 posts, got %d", stats.PostsProcessed)
	}

	db.InsertPost(Post{ID: "a", Title: "A", CreatedUTC: "2025-01-01 00:00:00",
		Classification: "Real", Status: StatusRetained})
	db.InsertPost(Post{ID: "b", Title: "B", CreatedUTC: "2025-01-01 00:00:00",
		Classification: "Fake", Status: StatusDiscarded})

	stats, _ = db.GetStats()
	if stats.PostsProcessed != 2 {
		t.Errorf("expected 2 posts, got %d", stats.PostsProcessed)
	}
	if stats.RealPosts != 1 || stats.FakePosts != 0 || stats.PostsDiscarded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	if got := FormatTimestamp(ts); got != "2025-03-04 04:06:07" {
		t.Errorf("expected UTC rendering, got %q", got)
	}

	parsed, err := ParseTimestamp("2025-03-04 04:06:07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, parsed)
	}
}

func TestFromUnix(t *testing.T) {
	got := FromUnix(1700000000.5)
	if got.Unix() != 1700000000 || got.Nanosecond() != 500000000 {
		t.Errorf("unexpected conversion: %v", got)
	}
	if got.Location() != time.UTC {
		t.Error("expected UTC location")
	}
}
