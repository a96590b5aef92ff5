package liquidity

import (
	"math"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

// Analyzer реализует анализатор ликвидности: объемы, VWAP и накопленный
// направленный объем
type Analyzer struct {
	config config.LiquidityConfig
	lib    indicators.Library
}

// NewAnalyzer создает новый анализатор ликвидности
func NewAnalyzer(cfg config.LiquidityConfig, lib indicators.Library) *Analyzer {
	return &Analyzer{
		config: cfg,
		lib:    lib,
	}
}

// Analyze анализирует ликвидность серии свечей.
// При недостатке данных возвращает нейтральный результат, а не ошибку.
func (a *Analyzer) Analyze(candles models.CandleSeries) *models.LiquidityAnalysis {
	if len(candles) < a.config.VolumeLookback {
		return &models.LiquidityAnalysis{Direction: models.DirectionNeutral, VWAPSignal: models.DirectionNeutral}
	}

	closes := candles.Closes()
	highs := candles.Highs()
	lows := candles.Lows()
	volumes := candles.Volumes()

	// Скользящая средняя объема и отношение текущего объема к ней
	volMA := indicators.Last(a.lib.SMA(volumes, a.config.VolumeLookback))
	volumeRatio := 0.0
	if volMA > 0 {
		volumeRatio = volumes[len(volumes)-1] / volMA
	}

	// Подтверждение объемом: повышенный объем и растущая линейная
	// аппроксимация последних пяти объемов
	confirmation := false
	if len(volumes) >= 5 {
		confirmation = volumeRatio > a.config.ConfirmationRatio &&
			indicators.Slope(volumes[len(volumes)-5:]) > 0
	}

	// Средневзвешенный по объему ценовой уровень
	vwapSeries := a.lib.VWAP(highs, lows, closes, volumes)
	vwap := indicators.Last(vwapSeries)

	vwapSignal, reclaim, rejection := a.analyzeVWAP(closes, vwapSeries)

	// Накопленный направленный объем
	obv := a.lib.OBV(closes, volumes)
	obvSlope := indicators.Slope(tail(obv, a.config.VolumeLookback))

	direction := a.resolveDirection(closes, volumes, obv)

	score := a.compositeScore(volumes, volMA, volumeRatio, vwapSignal, reclaim, rejection, obvSlope)

	return &models.LiquidityAnalysis{
		Direction:          direction,
		Score:              score,
		VolumeRatio:        volumeRatio,
		VolumeConfirmation: confirmation,
		VWAP:               vwap,
		VWAPSignal:         vwapSignal,
		Reclaim:            reclaim,
		Rejection:          rejection,
		OBVTrend:           obvSlope,
	}
}

// analyzeVWAP определяет положение цены относительно VWAP с учетом
// недавнего возврата за уровень и отклонения от него
func (a *Analyzer) analyzeVWAP(closes, vwap []float64) (models.Direction, bool, bool) {
	last := len(closes) - 1
	above := closes[last] > vwap[last]
	below := closes[last] < vwap[last]

	// Возврат: цена пересекла уровень в пределах последних трех баров
	reclaim := false
	rejection := false
	for k := 1; k <= 3 && last-k >= 0; k++ {
		if above && closes[last-k] < vwap[last-k] {
			reclaim = true
		}
		if below && closes[last-k] > vwap[last-k] {
			rejection = true
		}
	}

	// Явный возврат/отбой перекрывает простую проверку положения
	switch {
	case reclaim:
		return models.DirectionBullish, true, false
	case rejection:
		return models.DirectionBearish, false, true
	case above:
		return models.DirectionBullish, false, false
	case below:
		return models.DirectionBearish, false, false
	default:
		return models.DirectionNeutral, false, false
	}
}

// resolveDirection сравнивает тренд направленного объема с трендом
// объемно-взвешенной средней цены. Согласное движение следует ценовому
// тренду, расхождение возвращается явным состоянием divergence.
func (a *Analyzer) resolveDirection(closes, volumes, obv []float64) models.Direction {
	n := a.config.VolumeLookback

	obvSlope := indicators.Slope(tail(obv, n))
	vwmaSlope := indicators.Slope(tail(a.lib.VWMA(closes, volumes, n), n))

	if obvSlope == 0 || vwmaSlope == 0 {
		return models.DirectionNeutral
	}

	// Движутся врозь — неторгуемое состояние
	if (obvSlope > 0) != (vwmaSlope > 0) {
		return models.DirectionDivergence
	}

	priceSlope := indicators.Slope(tail(closes, n))
	switch {
	case priceSlope > 0:
		return models.DirectionBullish
	case priceSlope < 0:
		return models.DirectionBearish
	default:
		return models.DirectionNeutral
	}
}

// compositeScore собирает составной балл ликвидности:
// 30% постоянство объема, 25% уровень объема, 25% положение относительно
// VWAP, 20% сила тренда направленного объема
func (a *Analyzer) compositeScore(volumes []float64, volMA, volumeRatio float64, vwapSignal models.Direction, reclaim, rejection bool, obvSlope float64) float64 {
	// Постоянство: доля баров окна с объемом в разумных пределах от среднего
	consistency := 0.0
	if volMA > 0 {
		window := tail(volumes, a.config.VolumeLookback)
		stable := 0
		for _, v := range window {
			ratio := v / volMA
			if ratio >= 0.5 && ratio <= 2.0 {
				stable++
			}
		}
		consistency = float64(stable) / float64(len(window))
	}

	volumeLevel := math.Min(volumeRatio/2.0, 1.0)

	vwapAlignment := 0.0
	switch {
	case reclaim || rejection:
		vwapAlignment = 1.0
	case vwapSignal != models.DirectionNeutral:
		vwapAlignment = 0.7
	}

	obvStrength := 0.0
	if volMA > 0 {
		obvStrength = math.Min(math.Abs(obvSlope)/volMA, 1.0)
	}

	return consistency*0.30 + volumeLevel*0.25 + vwapAlignment*0.25 + obvStrength*0.20
}

// tail возвращает последние n значений серии
func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
