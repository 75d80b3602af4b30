package events

import (
	"context"
	"fmt"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// PostgresSink appends events to the generation_events table.
type PostgresSink struct {
	sql infra.SQLExecutor
}

// NewPostgresSink wraps a SQL executor.
func NewPostgresSink(sql infra.SQLExecutor) *PostgresSink {
	return &PostgresSink{sql: sql}
}

// Migrate creates the table and index when missing.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCreateGenerationEvents); err != nil {
		return fmt.Errorf("create generation_events: %w", err)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QIndexGenerationEvents); err != nil {
		return fmt.Errorf("index generation_events: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = nil
	}
	_, err := s.sql.Exec(ctx, sqlinline.QInsertGenerationEvent,
		e.ID, e.Seq, e.Timestamp, string(e.Kind), e.JobID, e.Provider, e.Status, e.ErrorKind,
		int64(e.Estimated), int64(e.Cost), payload)
	return err
}

func (s *PostgresSink) ProviderStats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectProviderAttemptStats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var st ProviderStats
		var micros int64
		if err := rows.Scan(&st.Provider, &st.Attempts, &st.Succeeded, &st.Failed, &st.TimedOut, &st.Skipped, &micros); err != nil {
			return nil, err
		}
		st.TotalCost = domain.Money(micros)
		out = append(out, finalize(st))
	}
	return out, rows.Err()
}

func (s *PostgresSink) SpendSince(ctx context.Context, since time.Time) (domain.Money, error) {
	var micros int64
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectSpendSince, since).Scan(&micros); err != nil {
		return 0, err
	}
	return domain.Money(micros), nil
}

var (
	_ Sink    = (*PostgresSink)(nil)
	_ History = (*PostgresSink)(nil)
)
