package types

type AssetClass string

type HistoryState string

type IDKind string

const (
	AssetClassStock   AssetClass = "stock"
	AssetClassETF     AssetClass = "etf"
	AssetClassCrypto  AssetClass = "crypto"
	AssetClassUnknown AssetClass = "n/a"
)

const (
	HistoryStateOpen   HistoryState = "OPEN"
	HistoryStateClosed HistoryState = "CLOSED"
)

const (
	IDKindAccount  IDKind = "account"
	IDKindPosition IDKind = "position"
)
