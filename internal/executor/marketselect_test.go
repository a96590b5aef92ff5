package executor

import (
	"testing"

	"github.com/skalibog/dmcore/internal/storage"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/internal/risk"
)

func selectTestExecutor(preferFutures bool) *Executor {
	cfg := testExecutorConfig()
	cfg.PreferFuturesOnTie = preferFutures
	riskMgr := risk.NewManager(config.RiskConfig{RiskPercent: 1, MinRiskReward: 1.5, DefaultStopPercent: 2, PortfolioCeiling: 10}, indicators.NewTALib())
	return NewExecutor(cfg, riskMgr, &fakeExchange{}, storage.NewMemoryStorage())
}

func TestSelectMarketDecisionTable(t *testing.T) {
	tests := []struct {
		name          string
		score         float64
		timeframe     string
		volatility    float64
		preferFutures bool
		want          models.MarketType
	}{
		{"both, strong and volatile", 0.85, "1h", 0.05, true, models.MarketFutures},
		{"both, strong and calm", 0.85, "1h", 0.02, true, models.MarketSpot},
		{"both, mid and volatile", 0.72, "1h", 0.05, true, models.MarketFutures},
		{"both, tie prefers futures", 0.72, "1h", 0.02, true, models.MarketFutures},
		{"both, tie prefers spot", 0.72, "1h", 0.02, false, models.MarketSpot},
		{"only spot timeframe", 0.85, "1d", 0.05, true, models.MarketSpot},
		{"only futures timeframe", 0.85, "15m", 0.05, true, models.MarketFutures},
		{"only spot by low volatility", 0.72, "1h", 0.005, true, models.MarketSpot},
		{"only futures by score", 0.72, "1h", 0.10, true, models.MarketFutures},
		{"neither, weak score", 0.50, "1h", 0.05, true, models.MarketNone},
		{"neither, extreme volatility", 0.85, "1h", 0.20, true, models.MarketNone},
		{"neither, unknown timeframe", 0.85, "5m", 0.05, true, models.MarketNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := selectTestExecutor(tt.preferFutures)
			sig := &models.Signal{Symbol: "BTCUSDT", Timeframe: tt.timeframe, Score: tt.score}

			decision := e.SelectMarket(sig, tt.volatility)
			if decision.Market != tt.want {
				t.Fatalf("expected %s, got %s (reasoning: %v)", tt.want, decision.Market, decision.Reasoning)
			}
			if len(decision.Reasoning) == 0 {
				t.Fatal("expected reasoning trail")
			}
		})
	}
}

func TestVolatilityProxy(t *testing.T) {
	sig := &models.Signal{Entry: 100, StopLoss: 98, TakeProfits: []float64{103}}
	if v := volatilityProxy(sig); v != 0.05 {
		t.Fatalf("expected proxy 0.05, got %f", v)
	}

	// Без лестницы тейков остается дистанция стопа
	sig.TakeProfits = nil
	if v := volatilityProxy(sig); v != 0.02 {
		t.Fatalf("expected proxy 0.02, got %f", v)
	}

	sig.Entry = 0
	if v := volatilityProxy(sig); v != 0 {
		t.Fatalf("expected zero proxy for zero entry, got %f", v)
	}
}
