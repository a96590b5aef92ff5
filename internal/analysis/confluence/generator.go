package confluence

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalibog/dmcore/internal/analysis/liquidity"
	"github.com/skalibog/dmcore/internal/analysis/smartmoney"
	"github.com/skalibog/dmcore/internal/analysis/smoothtrail"
	"github.com/skalibog/dmcore/internal/analysis/trend"
	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// Запасные стопы при отсутствии подходящего уровня
const (
	levelStopPercent    = 0.02
	fallbackStopPercent = 0.03
)

// TechnicalConfluence объединяет четыре независимых анализатора
// в один направленный балл
type TechnicalConfluence struct {
	config      config.AnalysisConfig
	candles     CandleSource
	candleLimit int

	trendAnal       *trend.Analyzer
	smoothTrailAnal *smoothtrail.Analyzer
	liquidityAnal   *liquidity.Analyzer
	smartMoneyAnal  *smartmoney.Analyzer
}

// NewTechnicalConfluence создает генератор сигналов на совпадении анализаторов
func NewTechnicalConfluence(cfg config.AnalysisConfig, candles CandleSource, lib indicators.Library, candleLimit int) *TechnicalConfluence {
	return &TechnicalConfluence{
		config:          cfg,
		candles:         candles,
		candleLimit:     candleLimit,
		trendAnal:       trend.NewAnalyzer(cfg.Trend, lib),
		smoothTrailAnal: smoothtrail.NewAnalyzer(cfg.SmoothTrail, lib),
		liquidityAnal:   liquidity.NewAnalyzer(cfg.Liquidity, lib),
		smartMoneyAnal:  smartmoney.NewAnalyzer(cfg.SmartMoney),
	}
}

// Generate строит сигнал для символа или возвращает (nil, nil),
// если совпадения анализаторов недостаточно
func (g *TechnicalConfluence) Generate(ctx context.Context, symbol, timeframe string) (*models.Signal, error) {
	candles, err := g.candles.GetKlines(ctx, symbol, timeframe, g.candleLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}
	if err := candles.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная серия свечей: %w", err)
	}
	if len(candles) == 0 {
		return nil, nil
	}

	// Запускаем все анализаторы параллельно
	var wg sync.WaitGroup
	var trendRes *models.TrendAnalysis
	var trailRes *models.SmoothTrailAnalysis
	var liqRes *models.LiquidityAnalysis
	var smRes *models.SmartMoneyAnalysis

	wg.Add(4)
	go func() {
		defer wg.Done()
		trendRes = g.trendAnal.Analyze(candles)
	}()
	go func() {
		defer wg.Done()
		trailRes = g.smoothTrailAnal.Analyze(candles)
	}()
	go func() {
		defer wg.Done()
		liqRes = g.liquidityAnal.Analyze(candles)
	}()
	go func() {
		defer wg.Done()
		smRes = g.smartMoneyAnal.Analyze(candles)
	}()
	wg.Wait()

	longScore, shortScore := g.accumulate(trendRes, trailRes, liqRes, smRes)

	logger.Debug("Совокупный балл анализаторов",
		zap.String("symbol", symbol),
		zap.Float64("long", longScore),
		zap.Float64("short", shortScore))

	// Сигнал только при достижении порога и строгом превосходстве стороны
	var side models.Side
	var score float64
	switch {
	case longScore >= g.config.MinScore && longScore > shortScore:
		side = models.SideLong
		score = longScore
	case shortScore >= g.config.MinScore && shortScore > longScore:
		side = models.SideShort
		score = shortScore
	default:
		return nil, nil
	}

	currentPrice := candles.Last().Close
	entry, stop := g.selectEntry(side, currentPrice, trailRes)

	signal := &models.Signal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Timeframe: timeframe,
		Side:      side,
		Score:     score,
		Entry:     entry,
		StopLoss:  stop,
		Confluence: map[string]bool{
			"trend":        agreesWithSide(trendRes.Direction, side),
			"smooth_trail": (side == models.SideLong && trailRes.Support) || (side == models.SideShort && trailRes.Resistance),
			"liquidity":    liqRes.VolumeConfirmation,
			"smart_money":  smRes.SignalDetected,
		},
		Context: fmt.Sprintf("тренд=%s сила=%.2f, ликвидность=%s, крупные игроки=%s, уровней=%d",
			trendRes.Direction, trendRes.Score, liqRes.Direction, smRes.Direction, len(trailRes.Levels)),
		CreatedAt: time.Now(),
	}

	return signal, nil
}

// accumulate распределяет вклад каждого анализатора на одну из сторон.
// Каждая сторона ограничена 1.0.
func (g *TechnicalConfluence) accumulate(trendRes *models.TrendAnalysis, trailRes *models.SmoothTrailAnalysis, liqRes *models.LiquidityAnalysis, smRes *models.SmartMoneyAnalysis) (float64, float64) {
	w := g.config.Weights
	var long, short float64

	switch trendRes.Direction {
	case models.DirectionUp:
		long += trendRes.Score * w.Trend
	case models.DirectionDown:
		short += trendRes.Score * w.Trend
	}

	// Уровни дают вклад стороной близости; при двух флагах побеждает
	// более сильный ближайший уровень
	supportStrength := 0.0
	resistanceStrength := 0.0
	if trailRes.Support && trailRes.NearestSupport != nil {
		supportStrength = trailRes.NearestSupport.Strength
	}
	if trailRes.Resistance && trailRes.NearestResistance != nil {
		resistanceStrength = trailRes.NearestResistance.Strength
	}
	if supportStrength >= resistanceStrength {
		long += supportStrength * w.SmoothTrail
	} else {
		short += resistanceStrength * w.SmoothTrail
	}

	switch liqRes.Direction {
	case models.DirectionBullish:
		long += liqRes.Score * w.Liquidity
	case models.DirectionBearish:
		short += liqRes.Score * w.Liquidity
	}

	if smRes.SignalDetected {
		contribution := math.Min(smRes.Activity, 1.0) * w.SmartMoney
		switch smRes.Direction {
		case models.DirectionBullish:
			long += contribution
		case models.DirectionBearish:
			short += contribution
		}
	}

	return math.Min(long, 1.0), math.Min(short, 1.0)
}

// selectEntry выбирает вход от сильнейшего подходящего уровня,
// иначе от текущей цены с запасным стопом
func (g *TechnicalConfluence) selectEntry(side models.Side, currentPrice float64, trailRes *models.SmoothTrailAnalysis) (entry, stop float64) {
	var best *models.Level
	for i := range trailRes.Levels {
		lvl := &trailRes.Levels[i]
		switch side {
		case models.SideLong:
			if lvl.Kind == models.LevelSupport && lvl.Price < currentPrice {
				if best == nil || lvl.Strength > best.Strength {
					best = lvl
				}
			}
		case models.SideShort:
			if lvl.Kind == models.LevelResistance && lvl.Price > currentPrice {
				if best == nil || lvl.Strength > best.Strength {
					best = lvl
				}
			}
		}
	}

	if best != nil {
		if side == models.SideLong {
			return best.Price, best.Price * (1 - levelStopPercent)
		}
		return best.Price, best.Price * (1 + levelStopPercent)
	}

	if side == models.SideLong {
		return currentPrice, currentPrice * (1 - fallbackStopPercent)
	}
	return currentPrice, currentPrice * (1 + fallbackStopPercent)
}

// agreesWithSide проверяет согласие направления анализатора со стороной сигнала
func agreesWithSide(d models.Direction, side models.Side) bool {
	if side == models.SideLong {
		return d == models.DirectionUp || d == models.DirectionBullish
	}
	return d == models.DirectionDown || d == models.DirectionBearish
}
