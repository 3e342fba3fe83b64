package database

import (
	"database/sql"
)

// InsertTrainingRun records the start of a training run.
func (db *DB) InsertTrainingRun(id string, epochs int, checkpoint string) error {
	_, err := db.conn.Exec(
		"INSERT INTO training_runs (id, epochs, checkpoint) VALUES (?, ?, ?)",
		id, epochs, checkpoint,
	)
	return err
}

// FinishTrainingRun stores the best validation loss and the epoch it came from.
func (db *DB) FinishTrainingRun(id string, bestValLoss float64, bestEpoch int) error {
	_, err := db.conn.Exec(
		`UPDATE training_runs SET finished_at = datetime('now'), best_val_loss = ?, best_epoch = ?
		WHERE id = ?`,
		bestValLoss, bestEpoch, id,
	)
	return err
}

// GetLatestTrainingRun returns the most recently started training run.
func (db *DB) GetLatestTrainingRun() (*TrainingRun, error) {
	row := db.conn.QueryRow(
		`SELECT id, started_at, finished_at, epochs, best_val_loss, best_epoch, checkpoint
		FROM training_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	)
	var r TrainingRun
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Epochs, &r.BestValLoss, &r.BestEpoch, &r.Checkpoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertEpoch records the metrics of one phase of one epoch.
func (db *DB) InsertEpoch(e Epoch) error {
	saved := 0
	if e.Saved {
		saved = 1
	}
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO training_epochs (run_id, epoch, phase, loss, accuracy, saved)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Epoch, e.Phase, e.Loss, e.Accuracy, saved,
	)
	return err
}

// GetEpochs returns all epoch rows of a training run ordered by epoch, train before val.
func (db *DB) GetEpochs(runID string) ([]Epoch, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, epoch, phase, loss, accuracy, saved FROM training_epochs
		WHERE run_id = ? ORDER BY epoch, phase`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		var saved int
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.Phase, &e.Loss, &e.Accuracy, &saved); err != nil {
			return nil, err
		}
		e.Saved = saved != 0
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}
