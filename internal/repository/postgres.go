// Package repository содержит журнал станции в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderExists возвращается при повторной записи заказа с тем же номером.
var ErrOrderExists = errors.New("order already recorded")

// Исходы проверки выдачи в журнале.
const (
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// PostgresRepository ведёт журнал оформленных заказов и проверок выдачи.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository подключается к БД и применяет миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(delays) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type journalLine struct {
	Name      string `json:"name"`
	UnitPrice string `json:"price"`
	Quantity  int    `json:"quantity"`
}

// RecordPlaced сохраняет заказ, принятый сервисом столовой.
func (r *PostgresRepository) RecordPlaced(ctx context.Context, c model.Confirmation) error {
	lines := make([]journalLine, 0, len(c.Request.Lines))
	for _, l := range c.Request.Lines {
		lines = append(lines, journalLine{Name: l.Name, UnitPrice: l.UnitPrice.String(), Quantity: l.Quantity})
	}
	items, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	err = r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO placed_orders (order_id, total_amount, items, placed_at) VALUES ($1, $2::numeric, $3, $4)`,
			c.OrderID, c.Request.TotalAmount.String(), items, c.PlacedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderExists, c.OrderID)
		}
		return fmt.Errorf("insert placed order: %w", err)
	}

	return nil
}

// RecordVerification сохраняет результат проверки кода выдачи.
func (r *PostgresRepository) RecordVerification(ctx context.Context, sessionID, payload string, order *model.Order, verifyErr error) error {
	outcome := OutcomeVerified
	var orderID, message *string
	switch {
	case verifyErr == nil && order != nil:
		orderID = &order.OrderID
	case errors.Is(verifyErr, apperr.ErrVerificationRejected):
		outcome = OutcomeRejected
		m := apperr.Reason(verifyErr)
		message = &m
	default:
		outcome = OutcomeFailed
		if verifyErr != nil {
			m := verifyErr.Error()
			message = &m
		}
	}

	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO verifications (session_id, payload, outcome, order_id, message) VALUES ($1, $2, $3, $4, $5)`,
			sessionID, payload, outcome, orderID, message,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}

	return nil
}

// RecentVerifications возвращает последние проверки выдачи, новые первыми.
func (r *PostgresRepository) RecentVerifications(ctx context.Context, limit int) ([]model.VerificationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, payload, outcome, COALESCE(order_id, ''), COALESCE(message, ''), verified_at
		 FROM verifications
		 ORDER BY verified_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select verifications: %w", err)
	}
	defer rows.Close()

	var res []model.VerificationRecord
	for rows.Next() {
		var v model.VerificationRecord
		if err := rows.Scan(&v.SessionID, &v.Payload, &v.Outcome, &v.OrderID, &v.Message, &v.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
