package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/domain"

	gomysql "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const errDuplicateEntry = 1062

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS reward_records (
			id CHAR(36) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			address VARCHAR(42) NOT NULL,
			symbol VARCHAR(16) NOT NULL,
			network VARCHAR(16) NOT NULL,
			amount VARCHAR(80) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY reward_tx_unique (network, tx_hash),
			KEY reward_address_idx (address, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_grants (
			network VARCHAR(16) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			asset VARCHAR(16) NOT NULL,
			from_addr VARCHAR(42) NOT NULL,
			to_addr VARCHAR(42) NOT NULL,
			on_chain_amount DECIMAL(65,0) NOT NULL,
			expected_amount DECIMAL(65,0) NOT NULL,
			verified_at DATETIME(6) NOT NULL,
			PRIMARY KEY (network, tx_hash),
			KEY purchase_from_idx (from_addr)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) StoreRewardRecords(ctx context.Context, records []domain.RewardRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.StoreRewardRecords",
		attribute.Int("records", len(records)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO reward_records (id, created_at, address, symbol, network, amount, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`)
	if err != nil {
		_ = tx.Rollback()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.ID,
			record.CreatedAt.UTC(),
			strings.ToLower(record.Address),
			record.Symbol,
			string(record.Network),
			record.Amount,
			strings.ToLower(record.TxHash),
		); err != nil {
			_ = tx.Rollback()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Repository) QueryRewards(ctx context.Context, filter application.RewardQueryFilter) ([]domain.RewardRecord, error) {
	ctx, span := startDBSpan(ctx, "mysql.QueryRewards",
		attribute.String("address", strings.ToLower(filter.Address)),
		attribute.String("network", string(filter.Network)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.Address != "" {
		clauses = append(clauses, "address = ?")
		args = append(args, strings.ToLower(filter.Address))
	}
	if filter.Network != "" {
		clauses = append(clauses, "network = ?")
		args = append(args, string(filter.Network))
	}
	if filter.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, filter.Symbol)
	}

	query := `SELECT id, created_at, address, symbol, network, amount, tx_hash FROM reward_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, application.NormalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var records []domain.RewardRecord
	for rows.Next() {
		var record domain.RewardRecord
		var network string
		if err := rows.Scan(&record.ID, &record.CreatedAt, &record.Address, &record.Symbol, &network, &record.Amount, &record.TxHash); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		record.Network = domain.NetworkID(network)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return records, nil
}

func (r *Repository) RecordPurchase(ctx context.Context, grant domain.PurchaseGrant) error {
	ctx, span := startDBSpan(ctx, "mysql.RecordPurchase",
		attribute.String("network", string(grant.Network)),
		attribute.String("tx.hash", grant.TxHash),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO purchase_grants
		(network, tx_hash, asset, from_addr, to_addr, on_chain_amount, expected_amount, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(grant.Network),
		strings.ToLower(grant.TxHash),
		string(grant.Asset),
		strings.ToLower(grant.From),
		strings.ToLower(grant.To),
		grant.OnChainAmount,
		grant.ExpectedAmount,
		grant.VerifiedAt.UTC(),
	)
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
		return fmt.Errorf("%w: %s", domain.ErrDuplicatePurchase, grant.TxHash)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("chainsettle/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
