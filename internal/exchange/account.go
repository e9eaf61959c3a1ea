package exchange

// Account is a point-in-time view of the account metrics. Nothing here is
// stored; every field is derived from the initial cash, the closed
// positions, the outstanding orders and the open position at the last
// matched close.
type Account struct {
	Cash             float64 `json:"cash"`
	WalletBalance    float64 `json:"wallet_balance"`
	OrderMargin      float64 `json:"order_margin"`
	PositionMargin   float64 `json:"position_margin"`
	UsedMargin       float64 `json:"used_margin"`
	AvailableBalance float64 `json:"available_balance"`
	Unrealized       float64 `json:"unrealized"`
	Equity           float64 `json:"equity"`
	RealizedPnL      float64 `json:"realized_pnl"`
	Close            float64 `json:"close"`
	X                int64   `json:"x"`
}

// Account computes the current account metrics.
func (e *Exchange) Account() Account {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := Account{
		RealizedPnL:    e.realized(),
		OrderMargin:    e.orderMargin(),
		PositionMargin: e.positionMargin(),
		Close:          e.close,
		X:              e.x,
	}
	a.Cash = e.cfg.InitialCash + a.RealizedPnL
	a.WalletBalance = a.Cash * e.cfg.Leverage
	a.UsedMargin = a.OrderMargin + a.PositionMargin
	a.AvailableBalance = a.WalletBalance - a.UsedMargin
	if e.position != nil {
		a.Unrealized = e.position.Unrealized(e.markPrice())
	}
	a.Equity = a.AvailableBalance
	if a.Unrealized < 0 {
		a.Equity += a.Unrealized
	}
	return a
}
