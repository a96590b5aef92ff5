package confluence

import (
	"context"
	"fmt"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

// CandleSource поставляет исторические свечи
type CandleSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error)
}

// FundingSource поставляет текущую ставку финансирования
type FundingSource interface {
	GetFundingRate(ctx context.Context, symbol string) (*models.FundingRate, error)
}

// SignalSource генерирует торговые сигналы. Отсутствие сигнала —
// штатный результат (nil, nil), а не ошибка.
type SignalSource interface {
	Generate(ctx context.Context, symbol, timeframe string) (*models.Signal, error)
}

// NewSource создает источник сигналов по имени из конфигурации
func NewSource(cfg config.AnalysisConfig, candles CandleSource, funding FundingSource, candleLimit int) (SignalSource, error) {
	lib := indicators.NewTALib()
	base := NewTechnicalConfluence(cfg, candles, lib, candleLimit)

	switch cfg.Source {
	case "confluence":
		return base, nil
	case "sentiment":
		if funding == nil {
			return nil, fmt.Errorf("источник sentiment требует поставщика ставок финансирования")
		}
		return NewSentimentAdjusted(base, funding, cfg.MinScore), nil
	default:
		return nil, fmt.Errorf("неизвестный источник сигналов: %q", cfg.Source)
	}
}
