// Package ledger is the position ledger engine: it opens and closes
// positions, computes shares and profit/loss, and keeps account funds
// conserved. All authoritative state lives in the store; the engine is
// stateless between calls.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pf-ledger/internal/ident"
	"pf-ledger/internal/model"
	"pf-ledger/internal/types"
)

// minOpenAmount is the policy minimum cash required to open a position.
var minOpenAmount = decimal.NewFromInt(10)

const sharePrecision = 8

var assetPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)

// Store is the engine's only persistence dependency. Mutating methods join
// the transaction carried by ctx when WithinTx opened one.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	// AdjustBalance applies funds = funds + delta as one conditional update
	// and fails with ErrInsufficientFunds when the result would be negative.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	InsertPosition(ctx context.Context, position *model.Position) error
	GetPosition(ctx context.Context, accountID, positionID string) (*model.Position, error)
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)
	ListPositionsByAsset(ctx context.Context, accountID, asset string) ([]model.Position, error)
	DeletePosition(ctx context.Context, accountID, positionID string) (bool, error)

	InsertClosedTrade(ctx context.Context, trade *model.ClosedTrade) error
	ListClosedTrades(ctx context.Context, accountID string) ([]model.ClosedTrade, error)

	InsertHistory(ctx context.Context, entry *model.HistoryEntry) error
	ListHistory(ctx context.Context, accountID string) ([]model.HistoryEntry, error)

	IDExists(ctx context.Context, kind types.IDKind, id string) (bool, error)
}

// PriceOracle supplies the current price and classification for an asset.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset string) (*model.PriceQuote, error)
}

// Service is the engine. The account ID handed to every call is an already
// authenticated handle; the engine performs no authentication.
type Service struct {
	store         Store
	oracle        PriceOracle
	ids           *ident.Generator
	oracleTimeout time.Duration
}

func NewService(store Store, oracle PriceOracle, ids *ident.Generator, oracleTimeout time.Duration) *Service {
	return &Service{store: store, oracle: oracle, ids: ids, oracleTimeout: oracleTimeout}
}

// Account returns the account row for display purposes.
func (s *Service) Account(ctx context.Context, accountID string) (*model.Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: get account: %v", ErrLedgerInconsistency, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: account %q", ErrInvalidArgument, accountID)
	}
	return acc, nil
}

// Deposit credits the account by amount.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidArgument)
	}
	return s.adjustFunds(ctx, accountID, amount)
}

// Withdraw debits the account by amount. The conditional balance update
// rejects an overdraw even under concurrent withdrawals.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidArgument)
	}
	return s.adjustFunds(ctx, accountID, amount.Neg())
}

func (s *Service) adjustFunds(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		balance, err = s.store.AdjustBalance(ctx, accountID, delta)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: adjust balance: %v", ErrLedgerInconsistency, err)
	}
	return balance, nil
}

// OpenPosition buys into an asset with invested cash. The position insert,
// the history row and the fund debit commit together or not at all.
func (s *Service) OpenPosition(ctx context.Context, accountID, asset string, amount decimal.Decimal) (*model.Position, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minOpenAmount) {
		return nil, fmt.Errorf("%w: minimum amount to open a position is %s", ErrInvalidArgument, minOpenAmount)
	}

	// The balance read is authoritative, never a cached value.
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: get balance: %v", ErrLedgerInconsistency, err)
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, balance, amount)
	}

	quote, err := s.lookupPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	shares := amount.DivRound(quote.Price, sharePrecision)

	var position *model.Position
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		// Generated inside the transaction so the uniqueness check and the
		// insert cannot race.
		positionID, err := s.ids.PositionID(ctx)
		if err != nil {
			return err
		}
		position = &model.Position{
			ID:         positionID,
			AccountID:  accountID,
			Asset:      asset,
			Amount:     amount,
			OpenPrice:  quote.Price,
			Shares:     shares,
			AssetClass: quote.AssetClass,
			Sector:     quote.Sector,
			OpenedAt:   time.Now().UTC(),
		}
		if err := s.store.InsertPosition(ctx, position); err != nil {
			return err
		}
		if err := s.store.InsertHistory(ctx, openHistory(position)); err != nil {
			return err
		}
		_, err = s.store.AdjustBalance(ctx, accountID, amount.Neg())
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrLedgerInconsistency, asset, err)
	}
	return position, nil
}

// ClosePosition closes one position at the oracle's current price and credits
// invested amount plus realized P&L back to the account.
func (s *Service) ClosePosition(ctx context.Context, accountID, positionID string) (*model.ClosedTrade, error) {
	position, err := s.store.GetPosition(ctx, accountID, positionID)
	if err != nil {
		return nil, fmt.Errorf("%w: get position: %v", ErrLedgerInconsistency, err)
	}
	if position == nil {
		return nil, fmt.Errorf("%w: %q", ErrPositionNotFound, positionID)
	}

	quote, err := s.lookupPrice(ctx, position.Asset)
	if err != nil {
		return nil, err
	}

	trades, credit := settle([]model.Position{*position}, quote.Price, time.Now().UTC())
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		return s.closeAll(ctx, accountID, trades, []model.Position{*position}, credit)
	})
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: close %s: %v", ErrLedgerInconsistency, positionID, err)
	}
	return &trades[0], nil
}

// CloseAsset closes every open position the account holds in one asset. One
// oracle lookup covers the whole batch, and all deletions plus a single
// accumulated credit commit in one transaction.
func (s *Service) CloseAsset(ctx context.Context, accountID, asset string) ([]model.ClosedTrade, error) {
	asset, err := normalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositionsByAsset(ctx, accountID, asset)
	if err != nil {
		return nil, fmt.Errorf("%w: list positions: %v", ErrLedgerInconsistency, err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: no open positions for %q", ErrPositionNotFound, asset)
	}

	quote, err := s.lookupPrice(ctx, asset)
	if err != nil {
		return nil, err
	}

	trades, credit := settle(positions, quote.Price, time.Now().UTC())
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		return s.closeAll(ctx, accountID, trades, positions, credit)
	})
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: close asset %s: %v", ErrLedgerInconsistency, asset, err)
	}
	return trades, nil
}

// closeAll writes the closed-trade rows, history entries and position
// deletions for a batch, then applies the accumulated credit once. Must run
// inside a transaction.
func (s *Service) closeAll(ctx context.Context, accountID string, trades []model.ClosedTrade, positions []model.Position, credit decimal.Decimal) error {
	for i := range trades {
		// The trade reuses the position's ID; the primary key makes a second
		// close of the same position fail here.
		if err := s.store.InsertClosedTrade(ctx, &trades[i]); err != nil {
			return err
		}
		if err := s.store.InsertHistory(ctx, closedHistory(&positions[i], &trades[i])); err != nil {
			return err
		}
		deleted, err := s.store.DeletePosition(ctx, accountID, trades[i].ID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %q", ErrPositionNotFound, trades[i].ID)
		}
	}
	_, err := s.store.AdjustBalance(ctx, accountID, credit)
	return err
}

// settle computes the closed trades and the total credit for a batch of
// positions at one price. P&L is (close - open) * shares rounded to 2;
// the credit per position is invested amount plus P&L.
func settle(positions []model.Position, closePrice decimal.Decimal, closedAt time.Time) ([]model.ClosedTrade, decimal.Decimal) {
	trades := make([]model.ClosedTrade, 0, len(positions))
	credit := decimal.Zero
	for _, p := range positions {
		profitLoss := closePrice.Sub(p.OpenPrice).Mul(p.Shares).Round(2)
		trades = append(trades, model.ClosedTrade{
			ID:         p.ID,
			AccountID:  p.AccountID,
			Asset:      p.Asset,
			Amount:     p.Amount,
			OpenPrice:  p.OpenPrice,
			ClosePrice: closePrice,
			ProfitLoss: profitLoss,
			OpenedAt:   p.OpenedAt,
			ClosedAt:   closedAt,
		})
		credit = credit.Add(p.Amount.Add(profitLoss))
	}
	return trades, credit
}

// Positions lists the account's open positions.
func (s *Service) Positions(ctx context.Context, accountID string) ([]model.Position, error) {
	positions, err := s.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list positions: %v", ErrLedgerInconsistency, err)
	}
	return positions, nil
}

// Trades lists the account's closed trades.
func (s *Service) Trades(ctx context.Context, accountID string) ([]model.ClosedTrade, error) {
	trades, err := s.store.ListClosedTrades(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list trades: %v", ErrLedgerInconsistency, err)
	}
	return trades, nil
}

// History lists the account's open/close audit log.
func (s *Service) History(ctx context.Context, accountID string) ([]model.HistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list history: %v", ErrLedgerInconsistency, err)
	}
	return entries, nil
}

// lookupPrice queries the oracle under a timeout. Any oracle failure or
// non-positive price surfaces as ErrPriceUnavailable; a zero or default price
// is never substituted into a money computation.
func (s *Service) lookupPrice(ctx context.Context, asset string) (*model.PriceQuote, error) {
	if s.oracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.oracleTimeout)
		defer cancel()
	}
	quote, err := s.oracle.GetPrice(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, asset, err)
	}
	if quote == nil || quote.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s: non-positive price", ErrPriceUnavailable, asset)
	}
	return quote, nil
}

func normalizeAsset(asset string) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if !assetPattern.MatchString(asset) {
		return "", fmt.Errorf("%w: malformed asset identifier %q", ErrInvalidArgument, asset)
	}
	return asset, nil
}

func openHistory(p *model.Position) *model.HistoryEntry {
	return &model.HistoryEntry{
		PositionID: p.ID,
		AccountID:  p.AccountID,
		Asset:      p.Asset,
		Amount:     p.Amount,
		OpenPrice:  p.OpenPrice,
		Shares:     p.Shares,
		AssetClass: p.AssetClass,
		Sector:     p.Sector,
		OpenedAt:   p.OpenedAt,
		State:      types.HistoryStateOpen,
	}
}

func closedHistory(p *model.Position, t *model.ClosedTrade) *model.HistoryEntry {
	closePrice := t.ClosePrice
	profitLoss := t.ProfitLoss
	closedAt := t.ClosedAt
	return &model.HistoryEntry{
		PositionID: p.ID,
		AccountID:  p.AccountID,
		Asset:      p.Asset,
		Amount:     p.Amount,
		OpenPrice:  p.OpenPrice,
		ClosePrice: &closePrice,
		ProfitLoss: &profitLoss,
		Shares:     p.Shares,
		AssetClass: p.AssetClass,
		Sector:     p.Sector,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   &closedAt,
		State:      types.HistoryStateClosed,
	}
}
