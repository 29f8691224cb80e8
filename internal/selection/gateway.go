package selection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Gateway persists selection state keyed by run configuration name.
type Gateway interface {
	// Load returns the stored state. Returns ErrStateNotFound when there is
	// none and ErrCorruptState when the stored data cannot be trusted.
	Load(ctx context.Context, runConfig string) (State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, runConfig string, state State) error

	// Delete removes the stored state. Deleting a missing entry is not an error.
	Delete(ctx context.Context, runConfig string) error
}

// SQLiteRepository implements Gateway using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load implements Gateway.
func (r *SQLiteRepository) Load(ctx context.Context, runConfig string) (State, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM selection_states WHERE run_config = ?`, runConfig,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("querying selection state: %w", err)
	}
	return Decode([]byte(data))
}

// Save implements Gateway.
func (r *SQLiteRepository) Save(ctx context.Context, runConfig string, state State) error {
	data, err := Encode(state)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO selection_states (run_config, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(run_config) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		runConfig, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving selection state: %w", err)
	}
	return nil
}

// Delete implements Gateway.
func (r *SQLiteRepository) Delete(ctx context.Context, runConfig string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM selection_states WHERE run_config = ?`, runConfig,
	); err != nil {
		return fmt.Errorf("deleting selection state: %w", err)
	}
	return nil
}

// List returns the names of run configurations with stored state.
func (r *SQLiteRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_config FROM selection_states ORDER BY run_config`)
	if err != nil {
		return nil, fmt.Errorf("listing selection states: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning selection state: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
