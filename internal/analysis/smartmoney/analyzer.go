package smartmoney

import (
	"math"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

// Пороговые константы паттернов
const (
	bodyRatioMin      = 0.7   // минимальная доля тела в диапазоне свечи ордер-блока
	blockVolumeRatio  = 1.5   // превышение объема для ордер-блока
	gapSizeMin        = 0.001 // минимальный разрыв как доля цены
	huntVolumeRatio   = 1.2   // превышение объема для выноса стопов
	sweepDistanceMin  = 0.0005
	anomalyVolumeRate = 2.0 // превышение объема для объемной аномалии
)

// Analyzer реализует анализатор следов крупных игроков:
// ордер-блоки, ценовые разрывы и выносы стопов
type Analyzer struct {
	config config.SmartMoneyConfig
}

// NewAnalyzer создает новый анализатор следов крупных игроков
func NewAnalyzer(cfg config.SmartMoneyConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze ищет паттерны в скользящем окне серии свечей.
// При недостатке данных возвращает нейтральный результат, а не ошибку.
func (a *Analyzer) Analyze(candles models.CandleSeries) *models.SmartMoneyAnalysis {
	if len(candles) < a.config.Lookback {
		return &models.SmartMoneyAnalysis{Direction: models.DirectionNeutral}
	}

	currentPrice := candles.Last().Close
	start := len(candles) - a.config.Lookback

	blocks := a.findOrderBlocks(candles, start)
	gaps := a.findFairValueGaps(candles, start, currentPrice)
	hunts := a.findStopHunts(candles, start)
	anomalies := a.countVolumeAnomalies(candles, start)

	// Взвешенная сумма находок определяет факт сигнала
	activity := float64(len(blocks))*0.3 +
		float64(len(gaps))*0.2 +
		float64(len(hunts))*0.4 +
		float64(anomalies)*0.1

	return &models.SmartMoneyAnalysis{
		Direction:      a.vote(blocks, gaps, hunts),
		SignalDetected: activity >= a.config.DetectionThreshold,
		Activity:       activity,
		OrderBlocks:    blocks,
		FairValueGaps:  gaps,
		StopHunts:      hunts,
	}
}

// findOrderBlocks ищет свечи с сильным телом на повышенном объеме
func (a *Analyzer) findOrderBlocks(candles models.CandleSeries, start int) []models.OrderBlock {
	var blocks []models.OrderBlock

	for i := start; i < len(candles); i++ {
		if i < 10 {
			continue
		}
		c := candles[i]

		candleRange := c.High - c.Low
		if candleRange == 0 {
			continue
		}
		body := math.Abs(c.Close - c.Open)
		if body/candleRange <= bodyRatioMin {
			continue
		}

		avgVolume := trailingAverageVolume(candles, i, 10)
		if avgVolume == 0 || c.Volume <= avgVolume*blockVolumeRatio {
			continue
		}

		direction := models.DirectionBullish
		if c.Close < c.Open {
			direction = models.DirectionBearish
		}

		volumeRatio := c.Volume / avgVolume
		blocks = append(blocks, models.OrderBlock{
			Index:       i,
			Direction:   direction,
			High:        c.High,
			Low:         c.Low,
			VolumeRatio: volumeRatio,
			Strength:    math.Min(volumeRatio, 3.0),
		})
	}

	return blocks
}

// findFairValueGaps ищет трехсвечные разрывы. Закрытые текущей ценой
// разрывы в активный список не попадают.
func (a *Analyzer) findFairValueGaps(candles models.CandleSeries, start int, currentPrice float64) []models.FairValueGap {
	var gaps []models.FairValueGap

	for i := start; i < len(candles)-1; i++ {
		if i == 0 {
			continue
		}
		prev := candles[i-1]
		next := candles[i+1]
		reference := candles[i].Close
		if reference == 0 {
			continue
		}

		// Бычий разрыв: максимум первой свечи ниже минимума третьей
		if prev.High < next.Low && (next.Low-prev.High)/reference > gapSizeMin {
			gap := models.FairValueGap{
				Index:     i,
				Direction: models.DirectionBullish,
				Top:       next.Low,
				Bottom:    prev.High,
				Size:      (next.Low - prev.High) / reference,
			}
			gap.Filled = currentPrice >= gap.Bottom && currentPrice <= gap.Top
			if !gap.Filled {
				gaps = append(gaps, gap)
			}
		}

		// Медвежий разрыв: минимум первой свечи выше максимума третьей
		if prev.Low > next.High && (prev.Low-next.High)/reference > gapSizeMin {
			gap := models.FairValueGap{
				Index:     i,
				Direction: models.DirectionBearish,
				Top:       prev.Low,
				Bottom:    next.High,
				Size:      (prev.Low - next.High) / reference,
			}
			gap.Filled = currentPrice >= gap.Bottom && currentPrice <= gap.Top
			if !gap.Filled {
				gaps = append(gaps, gap)
			}
		}
	}

	return gaps
}

// findStopHunts ищет пробои недавних экстремумов с быстрым возвратом
func (a *Analyzer) findStopHunts(candles models.CandleSeries, start int) []models.StopHunt {
	var hunts []models.StopHunt

	for i := start; i < len(candles)-1; i++ {
		if i < 5 {
			continue
		}

		// Экстремумы предыдущих пяти баров
		priorHigh := candles[i-1].High
		priorLow := candles[i-1].Low
		for j := i - 5; j < i; j++ {
			if candles[j].High > priorHigh {
				priorHigh = candles[j].High
			}
			if candles[j].Low < priorLow {
				priorLow = candles[j].Low
			}
		}

		avgVolume := trailingAverageVolume(candles, i, 10)
		if avgVolume == 0 || candles[i].Volume <= avgVolume*huntVolumeRatio {
			continue
		}

		c := candles[i]

		// Пробой вверх с возвратом ниже открытия пробойного бара
		if c.High > priorHigh && (c.High-priorHigh)/priorHigh > sweepDistanceMin {
			if hunt, ok := a.reversalWithin(candles, i, c.Open, models.StopHuntHigh, (c.High-priorHigh)/priorHigh, c.Volume/avgVolume); ok {
				hunts = append(hunts, hunt)
			}
		}

		// Пробой вниз с возвратом выше открытия пробойного бара
		if c.Low < priorLow && (priorLow-c.Low)/priorLow > sweepDistanceMin {
			if hunt, ok := a.reversalWithin(candles, i, c.Open, models.StopHuntLow, (priorLow-c.Low)/priorLow, c.Volume/avgVolume); ok {
				hunts = append(hunts, hunt)
			}
		}
	}

	return hunts
}

// reversalWithin проверяет возврат цены через открытие пробойного бара
// в пределах двух следующих свечей
func (a *Analyzer) reversalWithin(candles models.CandleSeries, i int, origin float64, kind models.StopHuntKind, sweep, volumeRatio float64) (models.StopHunt, bool) {
	for k := 1; k <= 2 && i+k < len(candles); k++ {
		next := candles[i+k]

		reversed := false
		if kind == models.StopHuntHigh && next.Close < origin {
			reversed = true
		}
		if kind == models.StopHuntLow && next.Close > origin {
			reversed = true
		}
		if !reversed {
			continue
		}

		reversal := 0.0
		if origin != 0 {
			reversal = math.Abs(next.Close-origin) / origin
		}
		return models.StopHunt{
			Index:            i,
			Kind:             kind,
			SweepSize:        sweep,
			VolumeRatio:      volumeRatio,
			ReversalStrength: reversal,
		}, true
	}

	return models.StopHunt{}, false
}

// countVolumeAnomalies считает бары с аномально высоким объемом
func (a *Analyzer) countVolumeAnomalies(candles models.CandleSeries, start int) int {
	count := 0
	for i := start; i < len(candles); i++ {
		if i < 10 {
			continue
		}
		avgVolume := trailingAverageVolume(candles, i, 10)
		if avgVolume > 0 && candles[i].Volume > avgVolume*anomalyVolumeRate {
			count++
		}
	}
	return count
}

// vote определяет направление голосованием находок. Вынос верхних стопов
// дает два голоса за падение, нижних — два за рост. Ничья — neutral.
func (a *Analyzer) vote(blocks []models.OrderBlock, gaps []models.FairValueGap, hunts []models.StopHunt) models.Direction {
	bullish := 0
	bearish := 0

	for _, b := range blocks {
		if b.Direction == models.DirectionBullish {
			bullish++
		} else {
			bearish++
		}
	}
	for _, g := range gaps {
		if g.Direction == models.DirectionBullish {
			bullish++
		} else {
			bearish++
		}
	}
	for _, h := range hunts {
		// Снятие ликвидности с последующим разворотом
		if h.Kind == models.StopHuntHigh {
			bearish += 2
		} else {
			bullish += 2
		}
	}

	switch {
	case bullish > bearish:
		return models.DirectionBullish
	case bearish > bullish:
		return models.DirectionBearish
	default:
		return models.DirectionNeutral
	}
}

// trailingAverageVolume возвращает средний объем n баров перед индексом i
func trailingAverageVolume(candles models.CandleSeries, i, n int) float64 {
	if i < n {
		return 0
	}
	var sum float64
	for j := i - n; j < i; j++ {
		sum += candles[j].Volume
	}
	return sum / float64(n)
}
