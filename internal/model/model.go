package model

import (
	"time"

	"github.com/shopspring/decimal"

	"pf-ledger/internal/types"
)

// Account is the cash side of the ledger. Funds are a currency-agnostic
// decimal and are only ever mutated through the engine's balance adjustment.
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Funds     decimal.Decimal `json:"funds"`
	CreatedAt time.Time       `json:"created_at"`
}

// Position is an open, cash-backed stake in a single asset. Shares are fixed
// at open time (amount / open price, 8 fractional digits) and never
// recomputed.
type Position struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"account_id"`
	Asset      string           `json:"asset"`
	Amount     decimal.Decimal  `json:"amount"`
	OpenPrice  decimal.Decimal  `json:"open_price"`
	Shares     decimal.Decimal  `json:"shares"`
	AssetClass types.AssetClass `json:"asset_class"`
	Sector     string           `json:"sector"`
	OpenedAt   time.Time        `json:"opened_at"`
}

// ClosedTrade is the immutable record emitted when a position closes. Its ID
// is the originating position's ID, which is what makes a second close of the
// same position structurally impossible.
type ClosedTrade struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// HistoryEntry is an append-only audit row written in the same transaction as
// the ledger mutation it describes. Close-related fields are nil for OPEN
// entries.
type HistoryEntry struct {
	PositionID string             `json:"position_id"`
	AccountID  string             `json:"account_id"`
	Asset      string             `json:"asset"`
	Amount     decimal.Decimal    `json:"amount"`
	OpenPrice  decimal.Decimal    `json:"open_price"`
	ClosePrice *decimal.Decimal   `json:"close_price,omitempty"`
	ProfitLoss *decimal.Decimal   `json:"profit_loss,omitempty"`
	Shares     decimal.Decimal    `json:"shares"`
	AssetClass types.AssetClass   `json:"asset_class"`
	Sector     string             `json:"sector"`
	OpenedAt   time.Time          `json:"opened_at"`
	ClosedAt   *time.Time         `json:"closed_at,omitempty"`
	State      types.HistoryState `json:"state"`
}

// PriceQuote is what the oracle returns for an asset lookup.
type PriceQuote struct {
	Price      decimal.Decimal
	AssetClass types.AssetClass
	Sector     string
}
