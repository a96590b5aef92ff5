package trend

import (
	"math"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

// Analyzer реализует трендовый анализатор на трех EMA и паре импульсных индикаторов
type Analyzer struct {
	config config.TrendConfig
	lib    indicators.Library
}

// NewAnalyzer создает новый трендовый анализатор
func NewAnalyzer(cfg config.TrendConfig, lib indicators.Library) *Analyzer {
	return &Analyzer{
		config: cfg,
		lib:    lib,
	}
}

// Analyze выполняет трендовый анализ серии свечей.
// При недостатке данных возвращает нейтральный результат, а не ошибку.
func (a *Analyzer) Analyze(candles models.CandleSeries) *models.TrendAnalysis {
	if len(candles) < a.config.TrendPeriod {
		return &models.TrendAnalysis{Direction: models.DirectionNeutral, Score: 0}
	}

	closes := candles.Closes()
	highs := candles.Highs()
	lows := candles.Lows()

	// Рассчитываем три EMA: быструю, медленную и трендовую
	emaFast := indicators.Last(a.lib.EMA(closes, a.config.FastPeriod))
	emaSlow := indicators.Last(a.lib.EMA(closes, a.config.SlowPeriod))
	emaTrend := indicators.Last(a.lib.EMA(closes, a.config.TrendPeriod))

	// Осциллятор направленной силы и импульсная пара
	adx := indicators.Last(a.lib.ADX(highs, lows, closes, a.config.ADXPeriod))
	rsi := indicators.Last(a.lib.RSI(closes, a.config.RSIPeriod))
	_, _, hist := a.lib.MACD(closes, a.config.MACDFast, a.config.MACDSlow, a.config.MACDSignal)
	macdHist := indicators.Last(hist)

	lastClose := closes[len(closes)-1]

	// Направление: согласие положения цены относительно трендовой EMA
	// и кроссовера быстрой/медленной EMA. При расхождении — mixed.
	direction := a.resolveDirection(lastClose, emaFast, emaSlow, emaTrend)

	result := &models.TrendAnalysis{
		Direction: direction,
		EMAFast:   emaFast,
		EMASlow:   emaSlow,
		EMATrend:  emaTrend,
		ADX:       adx,
		RSI:       rsi,
		MACDHist:  macdHist,
	}

	if direction != models.DirectionUp && direction != models.DirectionDown {
		return result
	}

	// Сила тренда: смесь величины ADX и недавнего ценового импульса
	strength := a.calculateStrength(closes, adx)
	result.Strength = strength

	score := strength

	// Бонус за монотонный порядок EMA относительно цены
	if a.emaAligned(lastClose, emaFast, emaSlow, emaTrend, direction) {
		result.EMAAligned = true
		score += 0.2
	}

	// Бонус за согласие импульсных индикаторов с направлением
	if a.momentumAgrees(rsi, macdHist, direction) {
		result.MomentumAgrees = true
		score += 0.2
	}

	result.Score = math.Min(score, 1.0)
	return result
}

// resolveDirection определяет направление по двум независимым признакам
func (a *Analyzer) resolveDirection(price, emaFast, emaSlow, emaTrend float64) models.Direction {
	var longTerm, shortTerm models.Direction

	if price > emaTrend {
		longTerm = models.DirectionUp
	} else if price < emaTrend {
		longTerm = models.DirectionDown
	} else {
		return models.DirectionNeutral
	}

	if emaFast > emaSlow {
		shortTerm = models.DirectionUp
	} else if emaFast < emaSlow {
		shortTerm = models.DirectionDown
	} else {
		return models.DirectionNeutral
	}

	if longTerm != shortTerm {
		return models.DirectionMixed
	}
	return longTerm
}

// calculateStrength смешивает величину ADX и величину недавнего импульса цены
func (a *Analyzer) calculateStrength(closes []float64, adx float64) float64 {
	// ADX выше 50 считаем максимально сильным трендом
	adxNorm := math.Min(adx/50.0, 1.0)

	// Импульс за последние 10 свечей как доля цены
	momentum := 0.0
	if len(closes) > 10 {
		prev := closes[len(closes)-11]
		if prev != 0 {
			momentum = math.Abs(closes[len(closes)-1]/prev - 1)
		}
	}
	momNorm := math.Min(momentum/0.05, 1.0)

	return adxNorm*0.6 + momNorm*0.4
}

// emaAligned проверяет монотонный порядок цены и трех EMA
func (a *Analyzer) emaAligned(price, emaFast, emaSlow, emaTrend float64, direction models.Direction) bool {
	if direction == models.DirectionUp {
		return price > emaFast && emaFast > emaSlow && emaSlow > emaTrend
	}
	return price < emaFast && emaFast < emaSlow && emaSlow < emaTrend
}

// momentumAgrees проверяет согласие RSI и гистограммы MACD с направлением
func (a *Analyzer) momentumAgrees(rsi, macdHist float64, direction models.Direction) bool {
	if direction == models.DirectionUp {
		return rsi > 50 && macdHist > 0
	}
	return rsi < 50 && macdHist < 0
}
