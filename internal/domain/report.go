package domain

import "time"

// CycleReport resume un tick del engine para logging y consola.
type CycleReport struct {
	Cycle          int
	At             time.Time
	MarketsScanned int
	Opportunities  int
	EntriesOpened  int
	ExitsTriggered int
	Unwinds        int
	Redemptions    int
	OpenPositions  []Position
	DailyRealized  Micros
	OpenNotional   Micros
	BreakerActive  bool
	HaltedOnGas    bool
	Warnings       []string
}

// DailySummary es la fila diaria persistida para el informe histórico.
type DailySummary struct {
	Date        time.Time
	Entries     int
	Exits       int
	Unwinds     int
	Redemptions int
	Wins        int
	Losses      int
	RealizedPnL Micros
	GasCostUSD  float64
}
