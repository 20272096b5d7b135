// Package journal хранит журнал попыток смены статуса заказов в PostgreSQL.
package journal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/outlet-console/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const table = "transition_journal"

// ErrDuplicateEntry возвращается при повторной записи с тем же идентификатором запроса.
var ErrDuplicateEntry = errors.New("journal entry already exists")

var columns = []string{
	"request_id", "actor_id", "outlet_id", "order_id", "from_status",
	"to_status", "item_ids", "outcome", "message", "created_at",
}

// Journal пишет и читает журнал переходов.
type Journal struct {
	pool   *pgxpool.Pool
	sq     squirrel.StatementBuilderType
	delays []time.Duration
}

// New подключается к БД и применяет миграции.
func New(ctx context.Context, dsn string) (*Journal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := newJournal(pool)

	if err := j.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return j, nil
}

func newJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{
		pool:   pool,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}
}

func (j *Journal) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(j.pool)
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

// Close закрывает пул соединений.
func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}

// Record сохраняет запись о попытке смены статуса.
func (j *Journal) Record(ctx context.Context, rec model.TransitionRecord) error {
	const op = "journal.Record"

	sql, args, err := j.insertQuery(rec)
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	err = j.withRetry(ctx, func() error {
		_, err := j.pool.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicateEntry, rec.RequestID)
		}
		return fmt.Errorf("%s: insert: %w", op, err)
	}

	return nil
}

// List возвращает историю переходов заказа, начиная с последних.
func (j *Journal) List(ctx context.Context, outletID, orderID string) ([]model.TransitionRecord, error) {
	const op = "journal.List"

	sql, args, err := j.listQuery(outletID, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	var res []model.TransitionRecord
	err = j.withRetry(ctx, func() error {
		res = nil

		rows, err := j.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec        model.TransitionRecord
				fromStatus string
				toStatus   string
			)
			if err := rows.Scan(
				&rec.RequestID, &rec.ActorID, &rec.OutletID, &rec.OrderID, &fromStatus,
				&toStatus, &rec.ItemIDs, &rec.Outcome, &rec.Message, &rec.CreatedAt,
			); err != nil {
				return fmt.Errorf("scan record: %w", err)
			}
			rec.FromStatus = model.OrderStatus(fromStatus)
			rec.ToStatus = model.OrderStatus(toStatus)
			res = append(res, rec)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (j *Journal) insertQuery(rec model.TransitionRecord) (string, []any, error) {
	itemIDs := rec.ItemIDs
	if itemIDs == nil {
		itemIDs = []string{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return j.sq.Insert(table).
		Columns(columns...).
		Values(
			rec.RequestID, rec.ActorID, rec.OutletID, rec.OrderID, string(rec.FromStatus),
			string(rec.ToStatus), itemIDs, rec.Outcome, rec.Message, createdAt,
		).
		ToSql()
}

func (j *Journal) listQuery(outletID, orderID string) (string, []any, error) {
	cols := make([]string, len(columns))
	copy(cols, columns)
	cols[0] = "request_id::text"

	return j.sq.Select(cols...).
		From(table).
		Where(squirrel.Eq{"outlet_id": outletID}).
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
}

func (j *Journal) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(j.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(j.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.delays[i]):
		}
	}

	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
