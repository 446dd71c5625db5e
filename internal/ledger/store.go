package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pf-ledger/internal/db"
	"pf-ledger/internal/model"
	"pf-ledger/internal/types"
)

// PgStore is the Postgres ledger store. Methods run against the transaction
// carried by ctx when one is open, the pool otherwise.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithinTx(ctx, s.pool, fn)
}

func (s *PgStore) runner(ctx context.Context) db.Runner {
	return db.RunnerFrom(ctx, s.pool)
}

func (s *PgStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acc := model.Account{}
	err := s.runner(ctx).QueryRow(ctx,
		`select account_id, name, funds, created_at from accounts where account_id = $1`,
		accountID).Scan(&acc.ID, &acc.Name, &acc.Funds, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store - GetAccount - QueryRow: %w", err)
	}
	return &acc, nil
}

func (s *PgStore) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var funds decimal.Decimal
	err := s.runner(ctx).QueryRow(ctx,
		`select funds from accounts where account_id = $1`, accountID).Scan(&funds)
	if err != nil {
		return decimal.Zero, fmt.Errorf("store - GetBalance - QueryRow: %w", err)
	}
	return funds, nil
}

// AdjustBalance applies the delta as a single atomic increment. The guard in
// the where clause rejects any update that would leave funds negative, which
// is what protects debits against lost updates under concurrency.
func (s *PgStore) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var funds decimal.Decimal
	err := s.runner(ctx).QueryRow(ctx,
		`update accounts set funds = funds + $2 where account_id = $1 and funds + $2 >= 0 returning funds`,
		accountID, delta).Scan(&funds)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrInsufficientFunds, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("store - AdjustBalance - QueryRow: %w", err)
	}
	return funds, nil
}

func (s *PgStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.runner(ctx).Exec(ctx,
		`insert into positions (position_id, account_id, asset, amount, open_price, shares, asset_class, sector, opened_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.AccountID, p.Asset, p.Amount, p.OpenPrice, p.Shares, string(p.AssetClass), p.Sector, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("store - InsertPosition - Exec: %w", err)
	}
	return nil
}

func (s *PgStore) GetPosition(ctx context.Context, accountID, positionID string) (*model.Position, error) {
	p, err := scanPosition(s.runner(ctx).QueryRow(ctx,
		`select position_id, account_id, asset, amount, open_price, shares, asset_class, sector, opened_at
		 from positions where position_id = $1 and account_id = $2`,
		positionID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store - GetPosition - QueryRow: %w", err)
	}
	return p, nil
}

func (s *PgStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`select position_id, account_id, asset, amount, open_price, shares, asset_class, sector, opened_at
		 from positions where account_id = $1 order by opened_at asc, position_id asc`, accountID)
}

func (s *PgStore) ListPositionsByAsset(ctx context.Context, accountID, asset string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`select position_id, account_id, asset, amount, open_price, shares, asset_class, sector, opened_at
		 from positions where account_id = $1 and asset = $2 order by opened_at asc, position_id asc`, accountID, asset)
}

func (s *PgStore) listPositions(ctx context.Context, sql string, args ...any) ([]model.Position, error) {
	rows, err := s.runner(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store - listPositions - Query: %w", err)
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("store - listPositions - Scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PgStore) DeletePosition(ctx context.Context, accountID, positionID string) (bool, error) {
	tag, err := s.runner(ctx).Exec(ctx,
		`delete from positions where position_id = $1 and account_id = $2`, positionID, accountID)
	if err != nil {
		return false, fmt.Errorf("store - DeletePosition - Exec: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) InsertClosedTrade(ctx context.Context, t *model.ClosedTrade) error {
	_, err := s.runner(ctx).Exec(ctx,
		`insert into trades (trade_id, account_id, asset, amount, open_price, close_price, profit_loss, opened_at, closed_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.AccountID, t.Asset, t.Amount, t.OpenPrice, t.ClosePrice, t.ProfitLoss, t.OpenedAt, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("store - InsertClosedTrade - Exec: %w", err)
	}
	return nil
}

func (s *PgStore) ListClosedTrades(ctx context.Context, accountID string) ([]model.ClosedTrade, error) {
	rows, err := s.runner(ctx).Query(ctx,
		`select trade_id, account_id, asset, amount, open_price, close_price, profit_loss, opened_at, closed_at
		 from trades where account_id = $1 order by closed_at desc, trade_id asc`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store - ListClosedTrades - Query: %w", err)
	}
	defer rows.Close()
	var out []model.ClosedTrade
	for rows.Next() {
		var t model.ClosedTrade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Asset, &t.Amount, &t.OpenPrice, &t.ClosePrice, &t.ProfitLoss, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("store - ListClosedTrades - Scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) InsertHistory(ctx context.Context, e *model.HistoryEntry) error {
	_, err := s.runner(ctx).Exec(ctx,
		`insert into account_history (position_id, account_id, asset, amount, open_price, close_price, profit_loss, shares, asset_class, sector, opened_at, closed_at, state)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.PositionID, e.AccountID, e.Asset, e.Amount, e.OpenPrice, e.ClosePrice, e.ProfitLoss, e.Shares, string(e.AssetClass), e.Sector, e.OpenedAt, e.ClosedAt, string(e.State))
	if err != nil {
		return fmt.Errorf("store - InsertHistory - Exec: %w", err)
	}
	return nil
}

func (s *PgStore) ListHistory(ctx context.Context, accountID string) ([]model.HistoryEntry, error) {
	rows, err := s.runner(ctx).Query(ctx,
		`select position_id, account_id, asset, amount, open_price, close_price, profit_loss, shares, asset_class, sector, opened_at, closed_at, state
		 from account_history where account_id = $1 order by entry_id asc`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store - ListHistory - Query: %w", err)
	}
	defer rows.Close()
	var out []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var assetClass, state string
		if err := rows.Scan(&e.PositionID, &e.AccountID, &e.Asset, &e.Amount, &e.OpenPrice, &e.ClosePrice, &e.ProfitLoss, &e.Shares, &assetClass, &e.Sector, &e.OpenedAt, &e.ClosedAt, &state); err != nil {
			return nil, fmt.Errorf("store - ListHistory - Scan: %w", err)
		}
		e.AssetClass = types.AssetClass(assetClass)
		e.State = types.HistoryState(state)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IDExists reports whether an identifier is already taken. Position IDs are
// checked against both open positions and closed trades, because a closed
// trade keeps its originating position's ID forever.
func (s *PgStore) IDExists(ctx context.Context, kind types.IDKind, id string) (bool, error) {
	var sql string
	switch kind {
	case types.IDKindAccount:
		sql = `select exists(select 1 from accounts where account_id = $1)`
	case types.IDKindPosition:
		sql = `select exists(select 1 from positions where position_id = $1)
		       or exists(select 1 from trades where trade_id = $1)`
	default:
		return false, fmt.Errorf("store - IDExists: unknown id kind %q", kind)
	}
	var exists bool
	if err := s.runner(ctx).QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("store - IDExists - QueryRow: %w", err)
	}
	return exists, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var assetClass string
	err := row.Scan(&p.ID, &p.AccountID, &p.Asset, &p.Amount, &p.OpenPrice, &p.Shares, &assetClass, &p.Sector, &p.OpenedAt)
	if err != nil {
		return nil, err
	}
	p.AssetClass = types.AssetClass(assetClass)
	return &p, nil
}
