package database

import (
	"database/sql"
)

// InsertCollectionRun records the start of a collection run.
func (db *DB) InsertCollectionRun(id, subreddit string) error {
	_, err := db.conn.Exec(
		"INSERT INTO collection_runs (id, subreddit) VALUES (?, ?)", id, subreddit,
	)
	return err
}

// FinishCollectionRun stores the final counters of a collection run.
func (db *DB) FinishCollectionRun(r CollectionRun) error {
	_, err := db.conn.Exec(
		`UPDATE collection_runs SET finished_at = datetime('now'),
		real_count = ?, fake_count = ?, uncertain_count = ?,
		posts_processed = ?, posts_discarded = ?, images_downloaded = ?
		WHERE id = ?`,
		r.RealCount, r.FakeCount, r.UncertainCount,
		r.PostsProcessed, r.PostsDiscarded, r.ImagesDownloaded, r.ID,
	)
	return err
}

// GetCollectionRun returns a collection run by ID.
func (db *DB) GetCollectionRun(id string) (*CollectionRun, error) {
	row := db.conn.QueryRow(
		`SELECT id, subreddit, started_at, finished_at, real_count, fake_count, uncertain_count,
		posts_processed, posts_discarded, images_downloaded
		FROM collection_runs WHERE id = ?`, id,
	)
	var r CollectionRun
	err := row.Scan(&r.ID, &r.Subreddit, &r.StartedAt, &r.FinishedAt, &r.RealCount, &r.FakeCount,
		&r.UncertainCount, &r.PostsProcessed, &r.PostsDiscarded, &r.ImagesDownloaded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertPost records a processed post. A post first recorded as
// discarded is replaced; a retained post is kept and false is returned.
// Constraint violations are returned as errors.
func (db *DB) InsertPost(p Post) (bool, error) {
	result, err := db.conn.Exec(
		`INSERT INTO posts
		(id, run_id, title, created_utc, classification, real_matches, fake_matches,
		comment_count, dataset_split, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			title = excluded.title,
			classification = excluded.classification,
			real_matches = excluded.real_matches,
			fake_matches = excluded.fake_matches,
			comment_count = excluded.comment_count,
			dataset_split = excluded.dataset_split,
			status = excluded.status,
			processed_at = datetime('now')
		WHERE posts.status = 'discarded'`,
		p.ID, p.RunID, p.Title, p.CreatedUTC, p.Classification, p.RealMatches, p.FakeMatches,
		p.CommentCount, p.DatasetSplit, p.Status,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasPost reports whether a post ID has been processed by any earlier run.
func (db *DB) HasPost(id string) (bool, error) {
	return db.countPosts("SELECT COUNT(*) FROM posts WHERE id = ?", id)
}

// HasRetainedPost reports whether an earlier run kept the post's images.
// Posts discarded for quota are not retained and may be collected again.
func (db *DB) HasRetainedPost(id string) (bool, error) {
	return db.countPosts("SELECT COUNT(*) FROM posts WHERE id = ? AND status = 'retained'", id)
}

func (db *DB) countPosts(query, id string) (bool, error) {
	var count int
	if err := db.conn.QueryRow(query, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetPost returns a post by ID.
func (db *DB) GetPost(id string) (*Post, error) {
	row := db.conn.QueryRow(
		`SELECT id, run_id, title, created_utc, classification, real_matches, fake_matches,
		comment_count, dataset_split, status, processed_at
		FROM posts WHERE id = ?`, id,
	)
	var p Post
	err := row.Scan(&p.ID, &p.RunID, &p.Title, &p.CreatedUTC, &p.Classification,
		&p.RealMatches, &p.FakeMatches, &p.CommentCount, &p.DatasetSplit, &p.Status, &p.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertImage records a retained image.
func (db *DB) InsertImage(img Image) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO images (post_id, run_id, url, path, classification, dataset_split, post_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		img.PostID, img.RunID, img.URL, img.Path, img.Classification, img.DatasetSplit, img.PostTimestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetImagesForRun returns the images retained by a collection run in insertion order.
func (db *DB) GetImagesForRun(runID string) ([]Image, error) {
	rows, err := db.conn.Query(
		`SELECT id, post_id, run_id, url, path, classification, dataset_split, post_timestamp
		FROM images WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.PostID, &img.RunID, &img.URL, &img.Path,
			&img.Classification, &img.DatasetSplit, &img.PostTimestamp); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
