package service

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/exchange"
	"slot_trader/internal/models"
	"slot_trader/internal/scorer"
)

type Config struct {
	LTF           string
	HTF           string
	Candles       int
	MinFlow       float64
	MaxCandidates int
	Parallel      int
}

// Gate: решения CycleVault, которые скан спрашивает перед входом.
type Gate interface {
	IsTradingAllowed() bool
	IsSymbolLocked(symbol string) bool
	MinScore() float64
}

type Opener interface {
	OpenPosition(ctx context.Context, req bankroll.OpenRequest) (models.Admission, error)
}

// Scanner: один проход: активные по потоку символы, свечи, балл, вход лучших через аллокатор.
type Scanner struct {
	cfg     Config
	scorer  *scorer.Scorer
	candles exchange.CandleSource
	gate    Gate
	opener  Opener
	log     *zap.Logger
}

func NewScanner(cfg Config, sc *scorer.Scorer, candles exchange.CandleSource, gate Gate, opener Opener, log *zap.Logger) *Scanner {
	if cfg.Candles <= 0 {
		cfg.Candles = 60
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 8
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if cfg.LTF == "" {
		cfg.LTF = "5m"
	}
	if cfg.HTF == "" {
		cfg.HTF = "1H"
	}
	return &Scanner{cfg: cfg, scorer: sc, candles: candles, gate: gate, opener: opener, log: log}
}

// Scan возвращает число открытых позиций.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	if !s.gate.IsTradingAllowed() {
		s.log.Debug("[SCAN] trading paused")
		return 0, nil
	}

	symbols := make([]string, 0, s.cfg.MaxCandidates)
	for _, sym := range s.scorer.Active(s.cfg.MinFlow) {
		if len(symbols) == s.cfg.MaxCandidates {
			break
		}
		if s.gate.IsSymbolLocked(sym) {
			continue
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return 0, nil
	}

	cards := make([]models.ScoreCard, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallel)
	for i, sym := range symbols {
		g.Go(func() error {
			ltf, err := s.candles.Candles(gctx, sym, s.cfg.LTF, s.cfg.Candles)
			if err != nil {
				s.log.Debug("[SCAN] ltf candles", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			htf, err := s.candles.Candles(gctx, sym, s.cfg.HTF, s.cfg.Candles)
			if err != nil {
				s.log.Debug("[SCAN] htf candles", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			cards[i] = s.scorer.Score(sym, ltf, htf)
			return nil
		})
	}
	_ = g.Wait()

	minScore := s.gate.MinScore()
	var candidates []models.Candidate
	for _, card := range cards {
		if card.Symbol == "" {
			continue
		}
		if c, ok := s.scorer.Evaluate(card, minScore); ok {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	opened := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return opened, ctx.Err()
		}
		adm, err := s.opener.OpenPosition(ctx, bankroll.OpenRequest{
			Symbol:   c.Symbol,
			Side:     c.Side,
			Category: c.Category,
		})
		if err != nil {
			s.log.Warn("[SCAN] open failed", zap.String("symbol", c.Symbol), zap.Error(err))
			continue
		}
		if adm.Admitted {
			opened++
			continue
		}
		s.log.Debug("[SCAN] not admitted", zap.String("symbol", c.Symbol), zap.String("reason", adm.Reason))
	}
	return opened, nil
}
