package scorer

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"slot_trader/internal/helper"
	"slot_trader/internal/metrics"
	"slot_trader/internal/models"
)

const (
	rejectNoFlow       = "no flow"
	rejectMomentum     = "opposing momentum"
	rejectCounterTrend = "counter-trend"
	rejectNoHistory    = "not enough candles"
)

type emission struct {
	score float64
	at    time.Time
}

// Scorer: составной скоринг и фильтр повторных кандидатов.
type Scorer struct {
	cfg  Config
	flow *FlowBook
	log  *zap.Logger
	now  func() time.Time

	mu   sync.Mutex
	last map[string]emission
}

func New(cfg Config, log *zap.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlowScale <= 0 {
		cfg.FlowScale = def.FlowScale
	}
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = def.MaxScore
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.EMAFast <= 0 || cfg.EMASlow <= cfg.EMAFast {
		cfg.EMAFast, cfg.EMASlow = def.EMAFast, def.EMASlow
	}
	if cfg.StrongTrendPct <= 0 {
		cfg.StrongTrendPct = def.StrongTrendPct
	}
	if cfg.RSIRejectBand <= 0 {
		cfg.RSIRejectBand = def.RSIRejectBand
	}
	return &Scorer{
		cfg:  cfg,
		flow: NewFlowBook(cfg.BufferSize),
		log:  log,
		now:  time.Now,
		last: make(map[string]emission),
	}
}

func (s *Scorer) Config() Config { return s.cfg }

// OnTrade: вход из потока сделок.
func (s *Scorer) OnTrade(t models.TradePrint) { s.flow.Add(t) }

func (s *Scorer) CVD(symbol string) float64 { return s.flow.CVD(symbol) }

func (s *Scorer) Active(minFlow float64) []string { return s.flow.Active(minFlow) }

func (s *Scorer) FlowSnapshot() map[string]float64 { return s.flow.Snapshot() }

// Score раскладывает балл символа. ltf: свечи рабочего ТФ, htf: старшего.
// Сторона берётся по знаку CVD. Rejected != "" означает, что кандидат отброшен.
func (s *Scorer) Score(symbol string, ltf, htf []models.Candle) models.ScoreCard {
	sym := helper.NormalizeSymbol(symbol)
	cvd := s.flow.CVD(sym)
	card := models.ScoreCard{Symbol: sym, CVD: cvd, Category: models.CategoryFast}

	switch {
	case cvd > 0:
		card.Side = models.SideLong
	case cvd < 0:
		card.Side = models.SideShort
	default:
		card.Rejected = rejectNoFlow
		return card
	}
	if len(ltf) <= s.cfg.RSIPeriod || len(htf) < s.cfg.EMASlow {
		card.Rejected = rejectNoHistory
		return card
	}
	sign := card.Side.Sign()

	// (a) поток
	card.Flow = s.cfg.WFlow * math.Min(math.Abs(cvd)/s.cfg.FlowScale, 1)

	// (b) моментум
	card.RSI = RSI(closes(ltf), s.cfg.RSIPeriod)
	aligned := (card.RSI - 50) * sign
	if aligned <= -s.cfg.RSIRejectBand {
		card.Rejected = rejectMomentum
		return card
	}
	band := s.cfg.RSIRejectBand
	card.Momentum = s.cfg.WMomentum * helper.Clamp((aligned+band)/(2*band), 0, 1)

	// (c) тренд старшего ТФ
	htfCloses := closes(htf)
	fast, _ := EMA(htfCloses, s.cfg.EMAFast)
	slow, _ := EMA(htfCloses, s.cfg.EMASlow)
	if slow <= 0 {
		card.Rejected = rejectNoHistory
		return card
	}
	spread := (fast - slow) / slow * 100 * sign
	if spread < 0 {
		card.Rejected = rejectCounterTrend
		return card
	}
	card.Trend = s.cfg.WTrend * helper.Clamp(spread/s.cfg.StrongTrendPct, 0, 1)
	if spread >= s.cfg.StrongTrendPct {
		card.Category = models.CategoryTrend
	}

	// (d) паттерн
	card.Pattern, card.Bonus = DetectPattern(s.cfg, ltf, card.Side)

	// (e) кит
	if s.cfg.WhaleNotional > 0 && s.flow.LargestPrint(sym, card.Side) >= s.cfg.WhaleNotional {
		card.Whale = s.cfg.WhaleBonus
	}

	total := s.cfg.BaseScore + card.Flow + card.Momentum + card.Trend + card.Bonus + card.Whale
	card.Total = math.Round(math.Min(total, s.cfg.MaxScore)*100) / 100
	return card
}

// Evaluate пропускает карточку выше порога и вне кулдауна. Повтор в кулдауне
// допускается, только если балл вырос не меньше чем на Improvement.
func (s *Scorer) Evaluate(card models.ScoreCard, minScore float64) (models.Candidate, bool) {
	if card.Rejected != "" {
		metrics.Candidates.WithLabelValues("rejected").Inc()
		return models.Candidate{}, false
	}
	if card.Total < minScore {
		metrics.Candidates.WithLabelValues("below_threshold").Inc()
		return models.Candidate{}, false
	}

	now := s.now()
	s.mu.Lock()
	prev, seen := s.last[card.Symbol]
	if seen && now.Sub(prev.at) < s.cfg.Cooldown && card.Total < prev.score+s.cfg.Improvement {
		s.mu.Unlock()
		metrics.Candidates.WithLabelValues("cooldown").Inc()
		return models.Candidate{}, false
	}
	s.last[card.Symbol] = emission{score: card.Total, at: now}
	s.mu.Unlock()

	metrics.Candidates.WithLabelValues("emitted").Inc()
	s.log.Info("[SCORER] candidate",
		zap.String("symbol", card.Symbol),
		zap.String("side", string(card.Side)),
		zap.Float64("score", card.Total),
		zap.String("category", string(card.Category)),
		zap.String("pattern", string(card.Pattern)),
		zap.Float64("cvd", card.CVD),
	)
	return models.Candidate{
		Symbol:   card.Symbol,
		Side:     card.Side,
		Score:    card.Total,
		Category: card.Category,
		Card:     card,
		At:       now,
	}, true
}

func closes(cs []models.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}
