package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository is the single-node record store. Timestamps are kept as unix
// microseconds so ordering stays numeric.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS reward_records (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			address TEXT NOT NULL,
			symbol TEXT NOT NULL,
			network TEXT NOT NULL,
			amount TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			UNIQUE(network, tx_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS reward_address_idx ON reward_records (address, created_at)`,
		`CREATE TABLE IF NOT EXISTS purchase_grants (
			network TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			asset TEXT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL,
			on_chain_amount TEXT NOT NULL,
			expected_amount TEXT NOT NULL,
			verified_at INTEGER NOT NULL,
			PRIMARY KEY (network, tx_hash)
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
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO reward_records (id, created_at, address, symbol, network, amount, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, tx_hash) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.ID,
			record.CreatedAt.UnixMicro(),
			strings.ToLower(record.Address),
			record.Symbol,
			string(record.Network),
			record.Amount,
			strings.ToLower(record.TxHash),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) QueryRewards(ctx context.Context, filter application.RewardQueryFilter) ([]domain.RewardRecord, error) {
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
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, application.NormalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RewardRecord
	for rows.Next() {
		var record domain.RewardRecord
		var createdAt int64
		var network string
		if err := rows.Scan(&record.ID, &createdAt, &record.Address, &record.Symbol, &network, &record.Amount, &record.TxHash); err != nil {
			return nil, err
		}
		record.CreatedAt = time.UnixMicro(createdAt).UTC()
		record.Network = domain.NetworkID(network)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) RecordPurchase(ctx context.Context, grant domain.PurchaseGrant) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO purchase_grants
		(network, tx_hash, asset, from_addr, to_addr, on_chain_amount, expected_amount, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, tx_hash) DO NOTHING`,
		string(grant.Network),
		strings.ToLower(grant.TxHash),
		string(grant.Asset),
		strings.ToLower(grant.From),
		strings.ToLower(grant.To),
		grant.OnChainAmount,
		grant.ExpectedAmount,
		grant.VerifiedAt.UnixMicro(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicatePurchase, grant.TxHash)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
