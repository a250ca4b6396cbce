package ctldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dataworks-io/sqlgate/pkg/models"
)

// LoadActiveMappings implements mapping.Loader, fetching every db_mapping
// row regardless of the active flag — callers filter on Active so a
// refresh can observe a destination being disabled without a restart.
func (c *Client) LoadActiveMappings(ctx context.Context) ([]models.DBMapping, error) {
	const q = `SELECT id, name, host, port, username, password, database, type, active, created_at, updated_at
		FROM db_mapping ORDER BY name`

	rows, err := c.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load db_mapping: %w", err)
	}
	defer rows.Close()

	var out []models.DBMapping
	for rows.Next() {
		var m models.DBMapping
		if err := rows.Scan(&m.ID, &m.Name, &m.Host, &m.Port, &m.Username, &m.Password,
			&m.Database, &m.Type, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan db_mapping row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate db_mapping rows: %w", err)
	}
	return out, nil
}

// GetMapping fetches a single destination mapping by name, regardless of its
// active flag, for mapping.Store's read-through path on a cache miss.
func (c *Client) GetMapping(ctx context.Context, name string) (models.DBMapping, bool, error) {
	const q = `SELECT id, name, host, port, username, password, database, type, active, created_at, updated_at
		FROM db_mapping WHERE name = $1`

	var m models.DBMapping
	err := c.Pool.QueryRow(ctx, q, name).Scan(&m.ID, &m.Name, &m.Host, &m.Port, &m.Username, &m.Password,
		&m.Database, &m.Type, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DBMapping{}, false, nil
		}
		return models.DBMapping{}, false, fmt.Errorf("get db_mapping %q: %w", name, err)
	}
	return m, true, nil
}

// UpsertMapping inserts or updates a destination mapping by name.
func (c *Client) UpsertMapping(ctx context.Context, m models.DBMapping) error {
	const q = `
INSERT INTO db_mapping (name, host, port, username, password, database, type, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (name) DO UPDATE SET
	host = EXCLUDED.host, port = EXCLUDED.port, username = EXCLUDED.username,
	password = EXCLUDED.password, database = EXCLUDED.database, type = EXCLUDED.type,
	active = EXCLUDED.active, updated_at = now()`

	_, err := c.Pool.Exec(ctx, q, m.Name, m.Host, m.Port, m.Username, m.Password, m.Database, m.Type, m.Active)
	if err != nil {
		return fmt.Errorf("upsert db_mapping %q: %w", m.Name, err)
	}
	return nil
}
