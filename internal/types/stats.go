package types

// DailyStats aggregates per-day activity. One row exists per calendar day in
// the exchange timezone; the day boundary is exchange-timezone midnight, which
// directly gates the daily-loss kill switch.
type DailyStats struct {
	// Day is the YYYY-MM-DD date key in the exchange timezone.
	Day         string  `yaml:"day" json:"day" csv:"day"`
	TradesCount int     `yaml:"trades_count" json:"trades_count" csv:"trades_count"`
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	WinsCount   int     `yaml:"wins_count" json:"wins_count" csv:"wins_count"`
	LossesCount int     `yaml:"losses_count" json:"losses_count" csv:"losses_count"`
}

// RealizedLoss returns today's realized loss as a non-negative dollar amount.
// A profitable day reports zero loss.
func (d DailyStats) RealizedLoss() float64 {
	if d.RealizedPnL < 0 {
		return -d.RealizedPnL
	}

	return 0
}

// WinRate returns the fraction of closed trades that were profitable, or zero
// when nothing has closed yet.
func (d DailyStats) WinRate() float64 {
	decided := d.WinsCount + d.LossesCount
	if decided == 0 {
		return 0
	}

	return float64(d.WinsCount) / float64(decided)
}

// MarketSnapshot is a point-in-time record of an underlying's price taken
// during a scan.
type MarketSnapshot struct {
	ID            string  `yaml:"id" json:"id" csv:"id"`
	Symbol        string  `yaml:"symbol" json:"symbol" csv:"symbol"`
	UnderlyingPx  float64 `yaml:"underlying_px" json:"underlying_px" csv:"underlying_px"`
	TakenAtMillis int64   `yaml:"taken_at_millis" json:"taken_at_millis" csv:"taken_at_millis"`
}
