package collect

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/legitcheck/internal/config"
)

func TestEnsureLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	if err := EnsureLayout(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, dir := range []string{"train/Real", "train/Fake", "val/Real", "val/Fake", "test/Real", "test/Fake", "Test_Data"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
	// Idempotent.
	if err := EnsureLayout(root); err != nil {
		t.Errorf("second EnsureLayout: %v", err)
	}
}

func TestDrawSplitDegenerateWeights(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for range 50 {
		if got := drawSplit(rng, config.SplitWeights{Train: 1}); got != SplitTrain {
			t.Fatalf("expected train, got %s", got)
		}
		if got := drawSplit(rng, config.SplitWeights{Test: 2}); got != SplitTest {
			t.Fatalf("expected test, got %s", got)
		}
	}
}

func TestDrawSplitDistribution(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	w := config.SplitWeights{Train: 0.8, Val: 0.1, Test: 0.1}
	counts := map[string]int{}
	const n = 10000
	for range n {
		counts[drawSplit(rng, w)]++
	}
	if frac := float64(counts[SplitTrain]) / n; frac < 0.77 || frac > 0.83 {
		t.Errorf("expected ~80%% train, got %.3f", frac)
	}
	if frac := float64(counts[SplitVal]) / n; frac < 0.08 || frac > 0.12 {
		t.Errorf("expected ~10%% val, got %.3f", frac)
	}
}

func TestWriteLogFormat(t *testing.T) {
	root := t.TempDir()
	entries := []LogEntry{
		{PostID: "abc", ImageURL: "https://i.redd.it/x.jpg?a=1&b=2", Classification: "Real",
			Timestamp: "2025-01-02 03:04:05", DatasetSplit: "train"},
		{PostID: "def", ImageURL: `https://example.com/"quoted",name.png`, Classification: "Uncertain",
			Timestamp: "2025-01-02 03:04:06", DatasetSplit: "test"},
	}
	if err := WriteLog(root, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(root, LogJSON))
	text := string(raw)
	if !strings.Contains(text, "a=1&b=2") {
		t.Error("expected ampersands to be written unescaped")
	}
	if !strings.Contains(text, "\n        \"Post ID\": \"abc\"") {
		t.Errorf("expected 4-space indentation, got:\n%s", text)
	}
	if strings.Index(text, `"Post ID"`) > strings.Index(text, `"Image URL"`) {
		t.Error("expected Post ID before Image URL")
	}

	rawCSV, _ := os.ReadFile(filepath.Join(root, LogCSV))
	if !strings.HasPrefix(string(rawCSV), "Post ID,Image URL,Classification,Timestamp,Dataset Split\r\n") {
		t.Errorf("unexpected CSV header: %q", string(rawCSV))
	}

	fromJSON, err := ReadLogJSON(root)
	if err != nil {
		t.Fatalf("ReadLogJSON: %v", err)
	}
	fromCSV, err := ReadLogCSV(root)
	if err != nil {
		t.Fatalf("ReadLogCSV: %v", err)
	}
	for i := range entries {
		if fromJSON[i] != entries[i] || fromCSV[i] != entries[i] {
			t.Errorf("row %d did not survive: json=%+v csv=%+v", i, fromJSON[i], fromCSV[i])
		}
	}
}

func TestWriteLogEmpty(t *testing.T) {
	root := t.TempDir()
	if err := WriteLog(root, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(root, LogJSON))
	if string(raw) != "[]" {
		t.Errorf("expected empty array, got %q", string(raw))
	}
	entries, err := ReadLogCSV(root)
	if err != nil {
		t.Fatalf("ReadLogCSV: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no rows, got %d", len(entries))
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	dst := filepath.Join(dir, "sub", "a.jpg")
	os.MkdirAll(filepath.Dir(dst), 0o755)
	os.WriteFile(src, []byte("data"), 0o644)

	if err := moveFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected source to be gone")
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "data" {
		t.Errorf("unexpected content %q", data)
	}
}
