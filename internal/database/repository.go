package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"

	"strat-scanner/internal/patterns"
)

// AlertRecord is one journaled alert
type AlertRecord struct {
	ID              string                `json:"id"`
	ScanID          string                `json:"scan_id"`
	Symbol          string                `json:"symbol"`
	Direction       string                `json:"direction"`
	PatternName     string                `json:"pattern_name"`
	Timeframe       string                `json:"timeframe"`
	BiasTimeframe   string                `json:"bias_timeframe"`
	EntryLevel      float64               `json:"entry_level"`
	StopLevel       float64               `json:"stop_level"`
	TargetLevel     *float64              `json:"target_level"`
	UnderlyingPrice float64               `json:"underlying_price"`
	OptionTicker    *string               `json:"option_ticker"`
	Payload         patterns.AlertPayload `json:"payload"`
	AlertedAt       time.Time             `json:"alerted_at"`
	CreatedAt       time.Time             `json:"created_at"`
}

// NewAlertRecord flattens an alert payload into its journal row
func NewAlertRecord(alert patterns.AlertPayload, scanID string) *AlertRecord {
	rec := &AlertRecord{
		ID:              uuid.NewString(),
		ScanID:          scanID,
		Symbol:          alert.Symbol,
		Direction:       string(alert.Direction),
		PatternName:     alert.PatternName,
		Timeframe:       alert.Timeframe,
		BiasTimeframe:   alert.BiasTimeframe,
		EntryLevel:      alert.EntryLevel,
		StopLevel:       alert.StopLevel,
		TargetLevel:     ptr(alert.TargetLevel),
		UnderlyingPrice: alert.UnderlyingPrice,
		Payload:         alert,
		AlertedAt:       alert.Timestamp,
	}
	if alert.Option != nil {
		ticker := alert.Option.Ticker
		rec.OptionTicker = &ticker
	}
	return rec
}

func ptr(v optional.Option[float64]) *float64 {
	f, err := v.Take()
	if err != nil {
		return nil
	}
	return &f
}

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// ALERT JOURNAL
// ============================================================================

// RecordAlert inserts an alerted signal. The journal is write-only from the
// scanner's point of view; dedup state never reads it back.
func (r *Repository) RecordAlert(ctx context.Context, alert patterns.AlertPayload, scanID string) error {
	rec := NewAlertRecord(alert, scanID)
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	query := `
		INSERT INTO strat_alerts (id, scan_id, symbol, direction, pattern_name, timeframe, bias_timeframe,
		                          entry_level, stop_level, target_level, underlying_price, option_ticker,
		                          payload, alerted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		rec.ID, rec.ScanID, rec.Symbol, rec.Direction, rec.PatternName, rec.Timeframe, rec.BiasTimeframe,
		rec.EntryLevel, rec.StopLevel, rec.TargetLevel, rec.UnderlyingPrice, rec.OptionTicker,
		payload, rec.AlertedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert for %s: %w", rec.Symbol, err)
	}
	return nil
}

// GetRecentAlerts retrieves the most recent journaled alerts
func (r *Repository) GetRecentAlerts(ctx context.Context, limit int) ([]*AlertRecord, error) {
	query := `
		SELECT id::text, COALESCE(scan_id, ''), symbol, direction, pattern_name, timeframe, bias_timeframe,
		       entry_level, stop_level, target_level, underlying_price, option_ticker,
		       payload, alerted_at, created_at
		FROM strat_alerts
		ORDER BY alerted_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AlertRecord
	for rows.Next() {
		rec := &AlertRecord{}
		var payloadJSON []byte
		err := rows.Scan(
			&rec.ID, &rec.ScanID, &rec.Symbol, &rec.Direction, &rec.PatternName, &rec.Timeframe,
			&rec.BiasTimeframe, &rec.EntryLevel, &rec.StopLevel, &rec.TargetLevel,
			&rec.UnderlyingPrice, &rec.OptionTicker, &payloadJSON, &rec.AlertedAt, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode alert payload %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
