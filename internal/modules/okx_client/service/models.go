package service

// positionRow: строка /api/v5/account/positions. pos в контрактах.
type positionRow struct {
	AvgPx   string `json:"avgPx"`
	InstId  string `json:"instId"`
	Lever   string `json:"lever"`
	LiqPx   string `json:"liqPx"`
	Margin  string `json:"margin"`
	MgnMode string `json:"mgnMode"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	Upl     string `json:"upl"`
	UTime   string `json:"uTime"`
}

// positionHistoryRow: строка /api/v5/account/positions-history.
type positionHistoryRow struct {
	InstId      string `json:"instId"`
	Direction   string `json:"direction"`
	OpenAvgPx   string `json:"openAvgPx"`
	CloseAvgPx  string `json:"closeAvgPx"`
	RealizedPnl string `json:"realizedPnl"`
	Pnl         string `json:"pnl"`
	UTime       string `json:"uTime"`
}

type instrumentRow struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
	MaxMktSz string `json:"maxMktSz"`

	CtType    string `json:"ctType"`    // "linear" / "inverse"
	SettleCcy string `json:"settleCcy"` // USDT для линейных
}

type tickerRow struct {
	InstType  string `json:"instType"`
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	VolCcy24h string `json:"volCcy24h"` // для SWAP в базовой монете
	TS        string `json:"ts"`
}

type balanceRow struct {
	TotalEq string `json:"totalEq"`
	Details []struct {
		Ccy     string `json:"ccy"`
		Eq      string `json:"eq"`
		AvailEq string `json:"availEq"`
		CashBal string `json:"cashBal"`
	} `json:"details"`
}

// ackRow: ответ на запись: ордер, алго-ордер, отмена.
type ackRow struct {
	OrdID  string `json:"ordId"`
	AlgoId string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

type algoPendingRow struct {
	AlgoId      string `json:"algoId"`
	InstId      string `json:"instId"`
	OrdType     string `json:"ordType"`
	PosSide     string `json:"posSide"`
	SlTriggerPx string `json:"slTriggerPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
}
