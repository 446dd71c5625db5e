package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgx connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("db - NewPool - ParseConfig: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db - NewPool - NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db - NewPool - Ping: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`create table if not exists accounts (
		account_id varchar(50) not null primary key,
		name varchar(50) not null unique,
		password_hash varchar(80) not null,
		funds numeric(12,2) not null default 0,
		created_at timestamptz not null default now()
	)`,
	`create table if not exists positions (
		position_id varchar(50) primary key,
		account_id varchar(50) not null references accounts(account_id),
		asset varchar(50) not null,
		amount numeric(12,2) not null,
		open_price numeric(12,2) not null,
		shares numeric(18,8) not null,
		asset_class varchar(50) not null default 'n/a',
		sector varchar(50) not null default 'N/A',
		opened_at timestamptz not null default now()
	)`,
	`create table if not exists trades (
		trade_id varchar(50) not null primary key,
		account_id varchar(50) not null references accounts(account_id),
		asset varchar(50) not null,
		amount numeric(12,2) not null,
		open_price numeric(12,2) not null,
		close_price numeric(12,2) not null,
		profit_loss numeric(12,2) not null,
		opened_at timestamptz not null,
		closed_at timestamptz not null default now()
	)`,
	`create table if not exists account_history (
		entry_id serial primary key,
		position_id varchar(50) not null,
		account_id varchar(50) not null references accounts(account_id),
		asset varchar(50) not null,
		amount numeric(12,2) not null,
		open_price numeric(12,2),
		close_price numeric(12,2),
		profit_loss numeric(12,2),
		shares numeric(18,8),
		asset_class varchar(50) not null default 'n/a',
		sector varchar(50) not null default 'N/A',
		opened_at timestamptz not null default now(),
		closed_at timestamptz,
		state varchar(50) not null
	)`,
	`create index if not exists positions_account_asset_idx on positions (account_id, asset)`,
	`create index if not exists trades_account_idx on trades (account_id)`,
	`create index if not exists account_history_account_idx on account_history (account_id)`,
}

// Migrate creates the ledger tables if they do not already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, q := range schema {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("db - Migrate - Exec: %w", err)
		}
	}
	return nil
}
