package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/pluginguard/internal/domain"
)

// StateRepo хранит PluginSecurityState: одна строка на плагин.
type StateRepo struct {
	pool *pgxpool.Pool
}

func NewStateRepo(pool *pgxpool.Pool) *StateRepo {
	return &StateRepo{pool: pool}
}

// Save — upsert текущей записи жизненного цикла.
func (r *StateRepo) Save(ctx context.Context, st domain.PluginSecurityState) error {
	query := `
		INSERT INTO plugin_security_state (plugin_id, state, is_collecting, configuration, error_count, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW())
		ON CONFLICT (plugin_id) DO UPDATE SET
			state = EXCLUDED.state,
			is_collecting = EXCLUDED.is_collecting,
			configuration = EXCLUDED.configuration,
			error_count = EXCLUDED.error_count,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		st.PluginID, string(st.State), st.IsCollecting, st.Configuration, st.ErrorCount, st.LastError,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save plugin state: %w", err)
	}
	return nil
}

// Get возвращает запись плагина; nil — если строки нет (404 решает хендлер).
func (r *StateRepo) Get(ctx context.Context, pluginID string) (*domain.PluginSecurityState, error) {
	query := `
		SELECT plugin_id, state, is_collecting, configuration, error_count, COALESCE(last_error, '')
		FROM plugin_security_state WHERE plugin_id = $1`

	st := &domain.PluginSecurityState{}
	var state string
	err := r.pool.QueryRow(ctx, query, pluginID).Scan(
		&st.PluginID, &state, &st.IsCollecting, &st.Configuration, &st.ErrorCount, &st.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.State = domain.PluginState(state)
	return st, nil
}

// ListByStates — «холодная загрузка» идентификаторов для прогрева кэшей
// (например, все Quarantined/Disabled при старте).
func (r *StateRepo) ListByStates(ctx context.Context, states ...domain.PluginState) ([]string, error) {
	vals := make([]string, len(states))
	for i, s := range states {
		vals[i] = string(s)
	}

	query := `SELECT plugin_id FROM plugin_security_state WHERE state = ANY($1)`
	rows, err := r.pool.Query(ctx, query, vals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping проверяет доступность базы при старте.
func (r *StateRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
