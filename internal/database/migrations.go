package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS collection_runs (
    id TEXT PRIMARY KEY,
    subreddit TEXT NOT NULL,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT,
    real_count INTEGER DEFAULT 0,
    fake_count INTEGER DEFAULT 0,
    uncertain_count INTEGER DEFAULT 0,
    posts_processed INTEGER DEFAULT 0,
    posts_discarded INTEGER DEFAULT 0,
    images_downloaded INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    run_id TEXT REFERENCES collection_runs(id),
    title TEXT NOT NULL,
    created_utc TEXT NOT NULL,
    classification TEXT NOT NULL CHECK(classification IN ('Real', 'Fake', 'Uncertain')),
    real_matches INTEGER DEFAULT 0,
    fake_matches INTEGER DEFAULT 0,
    comment_count INTEGER DEFAULT 0,
    dataset_split TEXT,
    status TEXT NOT NULL CHECK(status IN ('retained', 'discarded')),
    processed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id TEXT NOT NULL REFERENCES posts(id),
    run_id TEXT REFERENCES collection_runs(id),
    url TEXT NOT NULL,
    path TEXT NOT NULL,
    classification TEXT NOT NULL,
    dataset_split TEXT NOT NULL,
    post_timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT,
    epochs INTEGER NOT NULL,
    best_val_loss REAL,
    best_epoch INTEGER,
    checkpoint TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS training_epochs (
    run_id TEXT NOT NULL REFERENCES training_runs(id),
    epoch INTEGER NOT NULL,
    phase TEXT NOT NULL CHECK(phase IN ('train', 'val')),
    loss REAL NOT NULL,
    accuracy REAL NOT NULL,
    saved INTEGER DEFAULT 0,
    PRIMARY KEY (run_id, epoch, phase)
);

CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    checkpoint TEXT NOT NULL,
    total INTEGER DEFAULT 0,
    accuracy REAL NOT NULL,
    precision_macro REAL NOT NULL,
    recall_macro REAL NOT NULL,
    f1_macro REAL NOT NULL,
    confusion TEXT NOT NULL,
    report_markdown TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_posts_run ON posts(run_id);
CREATE INDEX IF NOT EXISTS idx_images_run ON images(run_id);
CREATE INDEX IF NOT EXISTS idx_images_post ON images(post_id);
CREATE INDEX IF NOT EXISTS idx_epochs_run ON training_epochs(run_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
