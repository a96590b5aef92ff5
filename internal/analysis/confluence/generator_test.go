package confluence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

type fakeCandles struct {
	candles models.CandleSeries
	err     error
}

func (f *fakeCandles) GetKlines(ctx context.Context, symbol, interval string, limit int) (models.CandleSeries, error) {
	return f.candles, f.err
}

type fakeFunding struct {
	rate *models.FundingRate
	err  error
}

func (f *fakeFunding) GetFundingRate(ctx context.Context, symbol string) (*models.FundingRate, error) {
	return f.rate, f.err
}

func testAnalysisConfig(minScore float64) config.AnalysisConfig {
	return config.AnalysisConfig{
		Source:   "confluence",
		MinScore: minScore,
		Weights:  config.WeightsConfig{Trend: 0.30, SmoothTrail: 0.25, Liquidity: 0.20, SmartMoney: 0.25},
		Trend: config.TrendConfig{
			FastPeriod: 20, SlowPeriod: 50, TrendPeriod: 200,
			ADXPeriod: 14, RSIPeriod: 14,
			MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		},
		SmoothTrail: config.SmoothTrailConfig{Lookback: 20, Sensitivity: 0.02},
		Liquidity:   config.LiquidityConfig{VolumeLookback: 20, ConfirmationRatio: 1.2},
		SmartMoney:  config.SmartMoneyConfig{Lookback: 50, DetectionThreshold: 0.6},
	}
}

func trendingSeries(n int, perBar float64) models.CandleSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make(models.CandleSeries, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		candles = append(candles, &models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "1h",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price * 0.999,
			High:     price * 1.004,
			Low:      price * 0.996,
			Close:    price,
			Volume:   1000,
		})
		price *= 1 + perBar
	}
	return candles
}

func TestGenerateLongOnUptrend(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: trendingSeries(250, 0.005)}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal on steady uptrend")
	}
	if sig.Side != models.SideLong {
		t.Fatalf("expected LONG side, got %s", sig.Side)
	}
	if sig.Score < cfg.MinScore {
		t.Fatalf("signal score %f below threshold %f", sig.Score, cfg.MinScore)
	}
	if sig.Entry <= 0 {
		t.Fatalf("expected positive entry, got %f", sig.Entry)
	}
	if sig.StopLoss >= sig.Entry {
		t.Fatalf("LONG stop %f must be below entry %f", sig.StopLoss, sig.Entry)
	}
	if sig.ID == "" || sig.Symbol != "BTCUSDT" || sig.Timeframe != "1h" {
		t.Fatal("signal identity fields not populated")
	}
	if !sig.Confluence["trend"] {
		t.Fatal("expected trend confluence flag on uptrend")
	}
}

func TestGenerateShortOnDowntrend(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: trendingSeries(250, -0.005)}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal on steady downtrend")
	}
	if sig.Side != models.SideShort {
		t.Fatalf("expected SHORT side, got %s", sig.Side)
	}
	if sig.StopLoss <= sig.Entry {
		t.Fatalf("SHORT stop %f must be above entry %f", sig.StopLoss, sig.Entry)
	}
}

func TestGenerateLongAtDefaultThreshold(t *testing.T) {
	// Устойчивый часовой тренд со всплеском объема на последних пяти
	// барах набирает совпадений достаточно для порога по умолчанию
	cfg := testAnalysisConfig(0.65)
	candles := trendingSeries(250, 0.005)
	for i := 245; i < 250; i++ {
		candles[i].Volume = 1000 * (2.0 + 2.5*float64(i-245)/4)
	}
	g := NewTechnicalConfluence(cfg, &fakeCandles{candles: candles}, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signal at the default threshold")
	}
	if sig.Side != models.SideLong {
		t.Fatalf("expected LONG side, got %s", sig.Side)
	}
	if sig.Score < cfg.MinScore {
		t.Fatalf("signal score %f below threshold %f", sig.Score, cfg.MinScore)
	}
}

func TestGenerateNoSignalBelowThreshold(t *testing.T) {
	// Порог по умолчанию слишком высок для тренда без совпадений
	cfg := testAnalysisConfig(0.65)
	source := &fakeCandles{candles: trendingSeries(250, 0.005)}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signal below threshold, got score %f", sig.Score)
	}
}

func TestGenerateNoSignalOnFlatMarket(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: trendingSeries(250, 0)}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signal on flat market")
	}
}

func TestGeneratePropagatesSourceError(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{err: errors.New("network down")}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	if _, err := g.Generate(context.Background(), "BTCUSDT", "1h"); err == nil {
		t.Fatal("expected error from candle source")
	}
}

func TestGenerateEmptySeries(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: nil}
	g := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	sig, err := g.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signal on empty series")
	}
}

func TestGenerateRejectsUnorderedSeries(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	candles := trendingSeries(250, 0.005)
	candles[10], candles[11] = candles[11], candles[10]
	g := NewTechnicalConfluence(cfg, &fakeCandles{candles: candles}, indicators.NewTALib(), 250)

	if _, err := g.Generate(context.Background(), "BTCUSDT", "1h"); err == nil {
		t.Fatal("expected error for unordered candle series")
	}
}

func TestSentimentPenaltyDropsWeakSignal(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: trendingSeries(250, 0.005)}
	inner := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	// Базовый сигнал существует
	base, err := inner.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil || base == nil {
		t.Fatalf("expected base signal, got %v, %v", base, err)
	}

	// Перегретое финансирование лонгов режет балл ниже порога
	overheated := &fakeFunding{rate: &models.FundingRate{Symbol: "BTCUSDT", Rate: 0.01}}
	adjusted := NewSentimentAdjusted(inner, overheated, base.Score*0.8)

	sig, err := adjusted.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected signal dropped after sentiment penalty, got score %f", sig.Score)
	}
}

func TestSentimentSkipsOnFundingError(t *testing.T) {
	cfg := testAnalysisConfig(0.40)
	source := &fakeCandles{candles: trendingSeries(250, 0.005)}
	inner := NewTechnicalConfluence(cfg, source, indicators.NewTALib(), 250)

	adjusted := NewSentimentAdjusted(inner, &fakeFunding{err: errors.New("unavailable")}, 0.40)

	sig, err := adjusted.Generate(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig == nil {
		t.Fatal("expected signal preserved when funding rate is unavailable")
	}
}

func TestNewSourceSelection(t *testing.T) {
	candles := &fakeCandles{}
	funding := &fakeFunding{}

	cfg := testAnalysisConfig(0.65)
	src, err := NewSource(cfg, candles, funding, 300)
	if err != nil {
		t.Fatalf("NewSource confluence: %v", err)
	}
	if _, ok := src.(*TechnicalConfluence); !ok {
		t.Fatalf("expected TechnicalConfluence source, got %T", src)
	}

	cfg.Source = "sentiment"
	src, err = NewSource(cfg, candles, funding, 300)
	if err != nil {
		t.Fatalf("NewSource sentiment: %v", err)
	}
	if _, ok := src.(*SentimentAdjusted); !ok {
		t.Fatalf("expected SentimentAdjusted source, got %T", src)
	}

	cfg.Source = "unknown"
	if _, err := NewSource(cfg, candles, funding, 300); err == nil {
		t.Fatal("expected error for unknown source name")
	}
}
