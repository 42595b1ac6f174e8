package postgres

/*
event_repo.go — append-only персистентность журнала событий безопасности.
Строки никогда не обновляются; вытеснение по емкости применяется на чтении
либо фоновым compaction-джобом (вне этого слоя).
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/pluginguard/internal/domain"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// WriteBatch вставляет пачку событий одним запросом.
func (r *EventRepo) WriteBatch(ctx context.Context, events []domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице security_events
	numFields := 5
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d),", p+1, p+2, p+3, p+4, p+5)

		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal event %s: %w", e.EventID(), err)
		}
		vals = append(vals, e.EventID(), e.EventPluginID(), string(e.Kind()), payload, e.EventTime())
	}

	query := fmt.Sprintf(
		"INSERT INTO security_events (id, plugin_id, type, payload, timestamp) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: failed to write event batch: %w", err)
	}
	return nil
}
