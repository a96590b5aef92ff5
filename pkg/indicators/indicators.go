package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Library абстрагирует индикаторную математику от логики анализаторов.
// Все функции принимают серии в порядке возрастания времени и возвращают
// серии той же длины (начальные значения до накопления периода равны 0).
type Library interface {
	EMA(values []float64, period int) []float64
	SMA(values []float64, period int) []float64
	RSI(values []float64, period int) []float64
	MACD(values []float64, fast, slow, signal int) (macd, macdSignal, hist []float64)
	ADX(highs, lows, closes []float64, period int) []float64
	ATR(highs, lows, closes []float64, period int) []float64
	OBV(closes, volumes []float64) []float64
	VWAP(highs, lows, closes, volumes []float64) []float64
	VWMA(closes, volumes []float64, period int) []float64
}

// TALib реализует Library поверх go-talib
type TALib struct{}

// NewTALib создает индикаторную библиотеку на основе go-talib
func NewTALib() *TALib {
	return &TALib{}
}

func (t *TALib) EMA(values []float64, period int) []float64 {
	return talib.Ema(values, period)
}

func (t *TALib) SMA(values []float64, period int) []float64 {
	return talib.Sma(values, period)
}

func (t *TALib) RSI(values []float64, period int) []float64 {
	return talib.Rsi(values, period)
}

func (t *TALib) MACD(values []float64, fast, slow, signal int) ([]float64, []float64, []float64) {
	return talib.Macd(values, fast, slow, signal)
}

func (t *TALib) ADX(highs, lows, closes []float64, period int) []float64 {
	return talib.Adx(highs, lows, closes, period)
}

func (t *TALib) ATR(highs, lows, closes []float64, period int) []float64 {
	return talib.Atr(highs, lows, closes, period)
}

func (t *TALib) OBV(closes, volumes []float64) []float64 {
	return talib.Obv(closes, volumes)
}

// VWAP рассчитывает накопленную средневзвешенную по объему цену.
// В go-talib нет VWAP, поэтому считаем по типичной цене вручную.
func (t *TALib) VWAP(highs, lows, closes, volumes []float64) []float64 {
	result := make([]float64, len(closes))

	var cumPV, cumVolume float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumVolume += volumes[i]

		if cumVolume == 0 {
			result[i] = typical
			continue
		}
		result[i] = cumPV / cumVolume
	}

	return result
}

// VWMA рассчитывает скользящую средневзвешенную по объему цену окна.
// В go-talib нет VWMA, поэтому считаем скользящую сумму вручную.
func (t *TALib) VWMA(closes, volumes []float64, period int) []float64 {
	result := make([]float64, len(closes))
	if period <= 0 || len(closes) < period {
		return result
	}

	var sumPV, sumVolume float64
	for i := range closes {
		sumPV += closes[i] * volumes[i]
		sumVolume += volumes[i]
		if i >= period {
			sumPV -= closes[i-period] * volumes[i-period]
			sumVolume -= volumes[i-period]
		}
		if i >= period-1 && sumVolume > 0 {
			result[i] = sumPV / sumVolume
		}
	}

	return result
}

// Slope вычисляет наклон линейной регрессии
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	n := float64(len(values))
	sumX := 0.0
	sumY := 0.0
	sumXY := 0.0
	sumXX := 0.0

	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	// Формула наклона линейной регрессии
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	if math.IsNaN(slope) {
		return 0
	}

	return slope
}

// StdDev вычисляет стандартное отклонение выборки
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance)
}

// Last возвращает последнее значение серии или 0 для пустой серии
func Last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
