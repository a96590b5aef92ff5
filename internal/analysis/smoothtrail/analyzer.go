package smoothtrail

import (
	"math"
	"sort"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

// Analyzer реализует анализатор уровней поддержки и сопротивления
// на основе локальных разворотных точек
type Analyzer struct {
	config config.SmoothTrailConfig
	lib    indicators.Library
}

// NewAnalyzer создает новый анализатор уровней
func NewAnalyzer(cfg config.SmoothTrailConfig, lib indicators.Library) *Analyzer {
	return &Analyzer{
		config: cfg,
		lib:    lib,
	}
}

// Analyze находит уровни поддержки и сопротивления для серии свечей.
// При недостатке данных возвращает пустой результат, а не ошибку.
func (a *Analyzer) Analyze(candles models.CandleSeries) *models.SmoothTrailAnalysis {
	if len(candles) < a.config.Lookback*2 {
		return &models.SmoothTrailAnalysis{}
	}

	currentPrice := candles.Last().Close

	// Находим локальные разворотные точки симметричным окном
	pivotHighs, pivotLows := a.findPivots(candles)

	// Группируем близкие точки в представительные уровни
	supports := a.groupLevels(pivotLows, models.LevelSupport)
	resistances := a.groupLevels(pivotHighs, models.LevelResistance)

	// Долгосрочные скользящие средние как дополнительные кандидаты в поддержки
	closes := candles.Closes()
	for _, period := range []int{100, 200} {
		if len(closes) < period {
			continue
		}
		ma := indicators.Last(a.lib.SMA(closes, period))
		if ma > 0 && ma < currentPrice {
			supports = append(supports, models.Level{
				Price:   ma,
				Kind:    models.LevelSupport,
				Touches: 1,
			})
		}
	}

	// Сила уровня = доля отскоков от исторических касаний
	levels := make([]models.Level, 0, len(supports)+len(resistances))
	for _, lvl := range supports {
		lvl.Strength = a.bounceRate(candles, lvl.Price, models.LevelSupport)
		lvl.Distance = math.Abs(currentPrice-lvl.Price) / currentPrice
		levels = append(levels, lvl)
	}
	for _, lvl := range resistances {
		lvl.Strength = a.bounceRate(candles, lvl.Price, models.LevelResistance)
		lvl.Distance = math.Abs(currentPrice-lvl.Price) / currentPrice
		levels = append(levels, lvl)
	}

	// Сортируем по близости к текущей цене, не больше 10 уровней
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Distance < levels[j].Distance
	})
	if len(levels) > 10 {
		levels = levels[:10]
	}

	result := &models.SmoothTrailAnalysis{Levels: levels}

	// Флаги близости цены к уровням и ближайшие уровни по сторонам
	for i := range levels {
		lvl := &levels[i]
		switch lvl.Kind {
		case models.LevelSupport:
			if lvl.Price < currentPrice && result.NearestSupport == nil {
				result.NearestSupport = lvl
			}
			if currentPrice >= lvl.Price && (currentPrice-lvl.Price)/lvl.Price < a.config.Sensitivity {
				result.Support = true
			}
		case models.LevelResistance:
			if lvl.Price > currentPrice && result.NearestResistance == nil {
				result.NearestResistance = lvl
			}
			if currentPrice <= lvl.Price && (lvl.Price-currentPrice)/lvl.Price < a.config.Sensitivity {
				result.Resistance = true
			}
		}
	}

	return result
}

// findPivots ищет локальные экстремумы: точка является разворотной,
// если в окне ±lookback нет бара с более высоким максимумом (минимумом)
func (a *Analyzer) findPivots(candles models.CandleSeries) (highs, lows []float64) {
	lookback := a.config.Lookback

	for i := lookback; i < len(candles)-lookback; i++ {
		isHigh := true
		isLow := true

		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High > candles[i].High {
				isHigh = false
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			highs = append(highs, candles[i].High)
		}
		if isLow {
			lows = append(lows, candles[i].Low)
		}
	}

	return highs, lows
}

// groupLevels объединяет близкие разворотные точки в представительные уровни
func (a *Analyzer) groupLevels(pivots []float64, kind models.LevelKind) []models.Level {
	if len(pivots) == 0 {
		return nil
	}

	sorted := make([]float64, len(pivots))
	copy(sorted, pivots)
	sort.Float64s(sorted)

	var levels []models.Level
	groupSum := sorted[0]
	groupCount := 1

	for i := 1; i < len(sorted); i++ {
		mean := groupSum / float64(groupCount)
		// Точки ближе sensitivity относятся к одному уровню
		if (sorted[i]-mean)/mean < a.config.Sensitivity {
			groupSum += sorted[i]
			groupCount++
			continue
		}

		levels = append(levels, models.Level{Price: mean, Kind: kind, Touches: groupCount})
		groupSum = sorted[i]
		groupCount = 1
	}
	levels = append(levels, models.Level{Price: groupSum / float64(groupCount), Kind: kind, Touches: groupCount})

	return levels
}

// bounceRate считает долю касаний уровня, после которых следующий бар
// закрылся на благоприятной стороне. Большее число касаний немного
// усиливает уровень, итог ограничен 1.0.
func (a *Analyzer) bounceRate(candles models.CandleSeries, level float64, kind models.LevelKind) float64 {
	touches := 0
	bounces := 0

	for i := 0; i < len(candles)-1; i++ {
		c := candles[i]
		next := candles[i+1]

		switch kind {
		case models.LevelSupport:
			if math.Abs(c.Low-level)/level < a.config.Sensitivity {
				touches++
				if next.Close > level {
					bounces++
				}
			}
		case models.LevelResistance:
			if math.Abs(c.High-level)/level < a.config.Sensitivity {
				touches++
				if next.Close < level {
					bounces++
				}
			}
		}
	}

	if touches == 0 {
		return 0
	}

	rate := float64(bounces) / float64(touches)
	// Легкое усиление за количество подтверждений
	rate *= 1 + float64(touches)*0.05
	return math.Min(rate, 1.0)
}
