package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertEvaluation stores an evaluation and its rendered report.
func (db *DB) InsertEvaluation(e Evaluation) (int64, error) {
	confusion, err := json.Marshal(e.Confusion)
	if err != nil {
		return 0, fmt.Errorf("encoding confusion matrix: %w", err)
	}
	result, err := db.conn.Exec(
		`INSERT INTO evaluations
		(run_id, checkpoint, total, accuracy, precision_macro, recall_macro, f1_macro, confusion, report_markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Checkpoint, e.Total, e.Accuracy, e.Precision, e.Recall, e.F1, string(confusion), e.ReportMarkdown,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLatestEvaluation returns the newest evaluation, or nil if none exist.
func (db *DB) GetLatestEvaluation() (*Evaluation, error) {
	row := db.conn.QueryRow(
		`SELECT id, run_id, checkpoint, total, accuracy, precision_macro, recall_macro, f1_macro,
		confusion, report_markdown, created_at
		FROM evaluations ORDER BY id DESC LIMIT 1`,
	)

	var e Evaluation
	var confusion string
	if err := row.Scan(&e.ID, &e.RunID, &e.Checkpoint, &e.Total, &e.Accuracy, &e.Precision,
		&e.Recall, &e.F1, &confusion, &e.ReportMarkdown, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(confusion), &e.Confusion); err != nil {
		return nil, fmt.Errorf("decoding confusion matrix: %w", err)
	}
	return &e, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM collection_runs", &s.CollectionRuns},
		{"SELECT COUNT(*) FROM posts", &s.PostsProcessed},
		{"SELECT COUNT(*) FROM posts WHERE status = 'retained'", &s.PostsRetained},
		{"SELECT COUNT(*) FROM posts WHERE status = 'discarded'", &s.PostsDiscarded},
		{"SELECT COUNT(*) FROM posts WHERE status = 'retained' AND classification = 'Real'", &s.RealPosts},
		{"SELECT COUNT(*) FROM posts WHERE status = 'retained' AND classification = 'Fake'", &s.FakePosts},
		{"SELECT COUNT(*) FROM posts WHERE status = 'retained' AND classification = 'Uncertain'", &s.UncertainPosts},
		{"SELECT COUNT(*) FROM images", &s.Images},
		{"SELECT COUNT(*) FROM training_runs", &s.TrainingRuns},
		{"SELECT COUNT(*) FROM evaluations", &s.Evaluations},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
