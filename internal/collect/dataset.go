package collect

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/legitcheck/internal/config"
)

// Dataset layout names.
const (
	SplitTrain  = "train"
	SplitVal    = "val"
	SplitTest   = "test"
	TestDataDir = "Test_Data"

	LogJSON = "log.json"
	LogCSV  = "log.csv"
)

var (
	splits    = []string{SplitTrain, SplitVal, SplitTest}
	labels    = []string{"Real", "Fake"}
	logFields = []string{"Post ID", "Image URL", "Classification", "Timestamp", "Dataset Split"}
)

// EnsureLayout creates <root>/{train,val,test}/{Real,Fake} and <root>/Test_Data.
func EnsureLayout(root string) error {
	for _, split := range splits {
		for _, label := range labels {
			if err := os.MkdirAll(filepath.Join(root, split, label), 0o755); err != nil {
				return fmt.Errorf("creating dataset layout: %w", err)
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(root, TestDataDir), 0o755); err != nil {
		return fmt.Errorf("creating dataset layout: %w", err)
	}
	return nil
}

// drawSplit picks train, val or test with the configured relative weights.
func drawSplit(rng *rand.Rand, w config.SplitWeights) string {
	weights := []float64{w.Train, w.Val, w.Test}
	total := w.Train + w.Val + w.Test
	x := rng.Float64() * total
	acc := 0.0
	for i, weight := range weights {
		acc += weight
		if x < acc {
			return splits[i]
		}
	}
	// Float rounding at the upper edge; pick the last non-zero bucket.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return splits[i]
		}
	}
	return SplitTrain
}

// moveFile renames src to dst, falling back to copy and remove when the
// two paths are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// WriteLog writes entries to <root>/log.json and <root>/log.csv,
// overwriting both.
func WriteLog(root string, entries []LogEntry) error {
	if entries == nil {
		entries = []LogEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, LogJSON), bytes.TrimRight(buf.Bytes(), "\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", LogJSON, err)
	}

	f, err := os.Create(filepath.Join(root, LogCSV))
	if err != nil {
		return fmt.Errorf("writing %s: %w", LogCSV, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.UseCRLF = true
	w.Write(logFields)
	for _, e := range entries {
		w.Write([]string{e.PostID, e.ImageURL, e.Classification, e.Timestamp, e.DatasetSplit})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", LogCSV, err)
	}
	return f.Close()
}

// ReadLogJSON reads <root>/log.json.
func ReadLogJSON(root string) ([]LogEntry, error) {
	data, err := os.ReadFile(filepath.Join(root, LogJSON))
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", LogJSON, err)
	}
	return entries, nil
}

// ReadLogCSV reads <root>/log.csv.
func ReadLogCSV(root string) ([]LogEntry, error) {
	f, err := os.Open(filepath.Join(root, LogCSV))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", LogCSV, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header", LogCSV)
	}

	entries := []LogEntry{}
	for _, rec := range records[1:] {
		if len(rec) != len(logFields) {
			return nil, fmt.Errorf("%s: expected %d fields, got %d", LogCSV, len(logFields), len(rec))
		}
		entries = append(entries, LogEntry{
			PostID: rec[0], ImageURL: rec[1], Classification: rec[2], Timestamp: rec[3], DatasetSplit: rec[4],
		})
	}
	return entries, nil
}
