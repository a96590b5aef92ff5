package confluence

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// Предел влияния ставки финансирования на балл сигнала
const maxSentimentPenalty = 0.3

// SentimentAdjusted корректирует балл технического сигнала по ставке
// финансирования: перегретая сторона рынка получает штраф.
// Высокая положительная ставка давит на лонги, отрицательная — на шорты.
type SentimentAdjusted struct {
	inner    SignalSource
	funding  FundingSource
	minScore float64
}

// NewSentimentAdjusted оборачивает источник сигналов корректировкой по настроению
func NewSentimentAdjusted(inner SignalSource, funding FundingSource, minScore float64) *SentimentAdjusted {
	return &SentimentAdjusted{
		inner:    inner,
		funding:  funding,
		minScore: minScore,
	}
}

// Generate генерирует сигнал и применяет штраф за перегретое финансирование.
// Недоступность ставки не отменяет сигнал, корректировка просто пропускается.
func (s *SentimentAdjusted) Generate(ctx context.Context, symbol, timeframe string) (*models.Signal, error) {
	signal, err := s.inner.Generate(ctx, symbol, timeframe)
	if err != nil || signal == nil {
		return signal, err
	}

	rate, err := s.funding.GetFundingRate(ctx, symbol)
	if err != nil {
		logger.Warn("Ставка финансирования недоступна, корректировка пропущена",
			zap.String("symbol", symbol), zap.Error(err))
		return signal, nil
	}

	penalty := s.penalty(signal.Side, rate.Rate)
	if penalty == 0 {
		return signal, nil
	}

	adjusted := signal.Score * (1 - penalty)
	logger.Debug("Корректировка балла по ставке финансирования",
		zap.String("symbol", symbol),
		zap.Float64("rate", rate.Rate),
		zap.Float64("score", signal.Score),
		zap.Float64("adjusted", adjusted))

	if adjusted < s.minScore {
		// Сигнал перестал проходить порог
		return nil, nil
	}

	signal.Score = adjusted
	return signal, nil
}

// penalty возвращает долю штрафа для стороны сигнала.
// Ставка 1% и выше дает максимальный штраф.
func (s *SentimentAdjusted) penalty(side models.Side, rate float64) float64 {
	var pressure float64
	if side == models.SideLong {
		pressure = math.Max(rate, 0)
	} else {
		pressure = math.Max(-rate, 0)
	}
	return math.Min(pressure/0.01, 1.0) * maxSentimentPenalty
}
