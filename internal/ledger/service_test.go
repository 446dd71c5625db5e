package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pf-ledger/internal/ident"
	"pf-ledger/internal/model"
	"pf-ledger/internal/types"
)

const testAccount = "AB123"

// fakeStore is an in-memory Store with transactional rollback: WithinTx
// snapshots the state and restores it when fn fails.
type fakeStore struct {
	accounts  map[string]model.Account
	positions map[string]model.Position
	trades    map[string]model.ClosedTrade
	history   []model.HistoryEntry

	failHistory bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[string]model.Account{},
		positions: map[string]model.Position{},
		trades:    map[string]model.ClosedTrade{},
	}
}

type storeSnapshot struct {
	accounts  map[string]model.Account
	positions map[string]model.Position
	trades    map[string]model.ClosedTrade
	history   []model.HistoryEntry
}

func (f *fakeStore) snapshot() storeSnapshot {
	s := storeSnapshot{
		accounts:  map[string]model.Account{},
		positions: map[string]model.Position{},
		trades:    map[string]model.ClosedTrade{},
		history:   append([]model.HistoryEntry(nil), f.history...),
	}
	for k, v := range f.accounts {
		s.accounts[k] = v
	}
	for k, v := range f.positions {
		s.positions[k] = v
	}
	for k, v := range f.trades {
		s.trades[k] = v
	}
	return s
}

func (f *fakeStore) restore(s storeSnapshot) {
	f.accounts = s.accounts
	f.positions = s.positions
	f.trades = s.trades
	f.history = s.history
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	before := f.snapshot()
	if err := fn(ctx); err != nil {
		f.restore(before)
		return err
	}
	return nil
}

func (f *fakeStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, ok := f.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no account %s", accountID)
	}
	return acc.Funds, nil
}

func (f *fakeStore) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	acc, ok := f.accounts[accountID]
	if !ok || acc.Funds.Add(delta).IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrInsufficientFunds, accountID)
	}
	acc.Funds = acc.Funds.Add(delta)
	f.accounts[accountID] = acc
	return acc.Funds, nil
}

func (f *fakeStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if _, ok := f.positions[p.ID]; ok {
		return fmt.Errorf("duplicate position id %s", p.ID)
	}
	f.positions[p.ID] = *p
	return nil
}

func (f *fakeStore) GetPosition(ctx context.Context, accountID, positionID string) (*model.Position, error) {
	p, ok := f.positions[positionID]
	if !ok || p.AccountID != accountID {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range f.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPositionsByAsset(ctx context.Context, accountID, asset string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range f.positions {
		if p.AccountID == accountID && p.Asset == asset {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) DeletePosition(ctx context.Context, accountID, positionID string) (bool, error) {
	p, ok := f.positions[positionID]
	if !ok || p.AccountID != accountID {
		return false, nil
	}
	delete(f.positions, positionID)
	return true, nil
}

func (f *fakeStore) InsertClosedTrade(ctx context.Context, t *model.ClosedTrade) error {
	if _, ok := f.trades[t.ID]; ok {
		return fmt.Errorf("duplicate trade id %s", t.ID)
	}
	f.trades[t.ID] = *t
	return nil
}

func (f *fakeStore) ListClosedTrades(ctx context.Context, accountID string) ([]model.ClosedTrade, error) {
	var out []model.ClosedTrade
	for _, t := range f.trades {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, e *model.HistoryEntry) error {
	if f.failHistory {
		return errors.New("history write failed")
	}
	f.history = append(f.history, *e)
	return nil
}

func (f *fakeStore) ListHistory(ctx context.Context, accountID string) ([]model.HistoryEntry, error) {
	var out []model.HistoryEntry
	for _, e := range f.history {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) IDExists(ctx context.Context, kind types.IDKind, id string) (bool, error) {
	switch kind {
	case types.IDKindAccount:
		_, ok := f.accounts[id]
		return ok, nil
	case types.IDKindPosition:
		if _, ok := f.positions[id]; ok {
			return true, nil
		}
		_, ok := f.trades[id]
		return ok, nil
	}
	return false, fmt.Errorf("unknown kind %q", kind)
}

type fakeOracle struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (o *fakeOracle) GetPrice(ctx context.Context, asset string) (*model.PriceQuote, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	price, ok := o.prices[asset]
	if !ok {
		return nil, errors.New("unknown asset")
	}
	return &model.PriceQuote{Price: price, AssetClass: types.AssetClassStock, Sector: "Technology"}, nil
}

func newTestService(funds string) (*Service, *fakeStore, *fakeOracle) {
	store := newFakeStore()
	store.accounts[testAccount] = model.Account{
		ID:        testAccount,
		Name:      "JohnDoe",
		Funds:     decimal.RequireFromString(funds),
		CreatedAt: time.Now().UTC(),
	}
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{}}
	svc := NewService(store, oracle, ident.New(store), time.Second)
	return svc, store, oracle
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestOpenPosition_ComputesShares(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(150)

	position, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(300))
	require.NoError(t, err)

	requireDecimal(t, "2", position.Shares)
	requireDecimal(t, "150", position.OpenPrice)
	requireDecimal(t, "300", position.Amount)
	require.Equal(t, types.AssetClassStock, position.AssetClass)
	require.Len(t, position.ID, 10)

	requireDecimal(t, "700", store.accounts[testAccount].Funds)
	require.Len(t, store.positions, 1)
	require.Len(t, store.history, 1)
	require.Equal(t, types.HistoryStateOpen, store.history[0].State)
}

func TestOpenPosition_RoundsSharesToEightPlaces(t *testing.T) {
	svc, _, oracle := newTestService("1000")
	oracle.prices["BTC"] = decimal.NewFromInt(3)

	position, err := svc.OpenPosition(context.Background(), testAccount, "BTC", decimal.NewFromInt(100))
	require.NoError(t, err)

	requireDecimal(t, "33.33333333", position.Shares)
}

func TestOpenPosition_BelowMinimum(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(150)
	before := store.snapshot()

	_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(5))
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, before, store.snapshot())
	require.Zero(t, oracle.calls)
}

func TestOpenPosition_MalformedAsset(t *testing.T) {
	svc, _, _ := newTestService("1000")

	for _, asset := range []string{"", "   ", "AA PL", ".X", "toolongtoolongtoolongx"} {
		_, err := svc.OpenPosition(context.Background(), testAccount, asset, decimal.NewFromInt(50))
		require.ErrorIs(t, err, ErrInvalidArgument, "asset %q", asset)
	}
}

func TestOpenPosition_InsufficientFunds(t *testing.T) {
	svc, store, oracle := newTestService("100")
	oracle.prices["AAPL"] = decimal.NewFromInt(150)
	before := store.snapshot()

	_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(300))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, before, store.snapshot())
	require.Zero(t, oracle.calls, "funds check precedes the oracle lookup")
}

func TestOpenPosition_PriceUnavailable(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.err = errors.New("market state UNKNOWN")
	before := store.snapshot()

	_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(300))
	require.ErrorIs(t, err, ErrPriceUnavailable)
	require.Equal(t, before, store.snapshot())
}

func TestOpenPosition_NonPositivePrice(t *testing.T) {
	svc, _, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.Zero

	_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(300))
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestOpenPosition_HistoryFailureRollsBack(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(150)
	store.failHistory = true
	before := store.snapshot()

	_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(300))
	require.ErrorIs(t, err, ErrLedgerInconsistency)
	require.Equal(t, before, store.snapshot())
}

func TestClosePosition_RealizesProfit(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	position, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(200))
	require.NoError(t, err)
	requireDecimal(t, "2", position.Shares)

	oracle.prices["AAPL"] = decimal.NewFromInt(130)
	trade, err := svc.ClosePosition(context.Background(), testAccount, position.ID)
	require.NoError(t, err)

	require.Equal(t, position.ID, trade.ID)
	requireDecimal(t, "60.00", trade.ProfitLoss)
	requireDecimal(t, "130", trade.ClosePrice)

	// 1000 - 200 + 260
	requireDecimal(t, "1060", store.accounts[testAccount].Funds)
	require.Empty(t, store.positions)
	require.Len(t, store.trades, 1)
	require.Equal(t, types.HistoryStateClosed, store.history[1].State)
}

func TestClosePosition_Loss(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["TSLA"] = decimal.NewFromInt(50)

	position, err := svc.OpenPosition(context.Background(), testAccount, "TSLA", decimal.NewFromInt(100))
	require.NoError(t, err)

	oracle.prices["TSLA"] = decimal.NewFromInt(40)
	trade, err := svc.ClosePosition(context.Background(), testAccount, position.ID)
	require.NoError(t, err)

	requireDecimal(t, "-20.00", trade.ProfitLoss)
	// 1000 - 100 + 80
	requireDecimal(t, "980", store.accounts[testAccount].Funds)
}

func TestClosePosition_Twice(t *testing.T) {
	svc, _, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	position, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(200))
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), testAccount, position.ID)
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), testAccount, position.ID)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestClosePosition_OtherAccount(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)
	store.accounts["ZZ999"] = model.Account{ID: "ZZ999", Name: "JaneSmith", Funds: decimal.NewFromInt(500)}

	position, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(200))
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), "ZZ999", position.ID)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestCloseAsset_BatchSingleLookup(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)
	oracle.prices["SPY"] = decimal.NewFromInt(50)

	for _, amount := range []int64{100, 150, 200} {
		_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(amount))
		require.NoError(t, err)
	}
	other, err := svc.OpenPosition(context.Background(), testAccount, "SPY", decimal.NewFromInt(100))
	require.NoError(t, err)

	oracle.prices["AAPL"] = decimal.NewFromInt(110)
	oracle.calls = 0
	trades, err := svc.CloseAsset(context.Background(), testAccount, "AAPL")
	require.NoError(t, err)

	require.Len(t, trades, 3)
	require.Equal(t, 1, oracle.calls, "one lookup per asset, not per position")

	// shares: 1, 1.5, 2 at open price 100; pnl at 110: 10 + 15 + 20
	// 1000 - 550 + (450 + 45)
	requireDecimal(t, "945", store.accounts[testAccount].Funds)
	require.Len(t, store.positions, 1)
	_, spyStillOpen := store.positions[other.ID]
	require.True(t, spyStillOpen)
}

func TestCloseAsset_NoPositions(t *testing.T) {
	svc, _, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	_, err := svc.CloseAsset(context.Background(), testAccount, "AAPL")
	require.ErrorIs(t, err, ErrPositionNotFound)
	require.Zero(t, oracle.calls)
}

func TestCloseAsset_OracleFailureLeavesPositionsOpen(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	for _, amount := range []int64{100, 150, 200} {
		_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(amount))
		require.NoError(t, err)
	}
	before := store.snapshot()

	oracle.err = errors.New("oracle timeout")
	_, err := svc.CloseAsset(context.Background(), testAccount, "AAPL")
	require.ErrorIs(t, err, ErrPriceUnavailable)
	require.Equal(t, before, store.snapshot())
	require.Len(t, store.positions, 3)
}

func TestCloseAsset_HistoryFailureRollsBackWholeBatch(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	for _, amount := range []int64{100, 150} {
		_, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(amount))
		require.NoError(t, err)
	}
	before := store.snapshot()

	store.failHistory = true
	_, err := svc.CloseAsset(context.Background(), testAccount, "AAPL")
	require.ErrorIs(t, err, ErrLedgerInconsistency)
	require.Equal(t, before, store.snapshot())
}

func TestConservation(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	ctx := context.Background()
	initial := decimal.NewFromInt(1000)

	oracle.prices["AAPL"] = decimal.NewFromInt(100)
	oracle.prices["SPY"] = decimal.NewFromInt(50)

	_, err := svc.OpenPosition(ctx, testAccount, "AAPL", decimal.NewFromInt(300))
	require.NoError(t, err)
	_, err = svc.OpenPosition(ctx, testAccount, "AAPL", decimal.NewFromInt(200))
	require.NoError(t, err)
	spy, err := svc.OpenPosition(ctx, testAccount, "SPY", decimal.NewFromInt(100))
	require.NoError(t, err)

	oracle.prices["AAPL"] = decimal.NewFromInt(110)
	_, err = svc.CloseAsset(ctx, testAccount, "AAPL")
	require.NoError(t, err)

	oracle.prices["SPY"] = decimal.NewFromInt(40)
	_, err = svc.ClosePosition(ctx, testAccount, spy.ID)
	require.NoError(t, err)

	invested := decimal.Zero
	for _, p := range store.positions {
		invested = invested.Add(p.Amount)
	}
	realized := decimal.Zero
	for _, tr := range store.trades {
		realized = realized.Add(tr.ProfitLoss)
	}

	final := store.accounts[testAccount].Funds
	require.True(t, final.Add(invested).Equal(initial.Add(realized)),
		"final %s + invested %s != initial %s + realized %s", final, invested, initial, realized)
	// 30 + 20 - 20
	requireDecimal(t, "30", realized)
	requireDecimal(t, "1030", final)
}

func TestDeposit(t *testing.T) {
	svc, store, _ := newTestService("0")

	balance, err := svc.Deposit(context.Background(), testAccount, decimal.NewFromInt(3000))
	require.NoError(t, err)
	requireDecimal(t, "3000", balance)
	requireDecimal(t, "3000", store.accounts[testAccount].Funds)

	_, err = svc.Deposit(context.Background(), testAccount, decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWithdraw(t *testing.T) {
	svc, store, _ := newTestService("100")

	balance, err := svc.Withdraw(context.Background(), testAccount, decimal.NewFromInt(40))
	require.NoError(t, err)
	requireDecimal(t, "60", balance)

	_, err = svc.Withdraw(context.Background(), testAccount, decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireDecimal(t, "60", store.accounts[testAccount].Funds)

	_, err = svc.Withdraw(context.Background(), testAccount, decimal.NewFromInt(-5))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPositionIDsNeverReused(t *testing.T) {
	svc, store, oracle := newTestService("1000")
	oracle.prices["AAPL"] = decimal.NewFromInt(100)

	position, err := svc.OpenPosition(context.Background(), testAccount, "AAPL", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = svc.ClosePosition(context.Background(), testAccount, position.ID)
	require.NoError(t, err)

	// The closed trade keeps the ID, so the generator must refuse it.
	exists, err := store.IDExists(context.Background(), types.IDKindPosition, position.ID)
	require.NoError(t, err)
	require.True(t, exists)
}
