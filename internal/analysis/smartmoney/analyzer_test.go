package smartmoney

import (
	"testing"
	"time"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

func testConfig() config.SmartMoneyConfig {
	return config.SmartMoneyConfig{
		Lookback:           30,
		DetectionThreshold: 0.3,
	}
}

// flatSeries строит спокойную серию без паттернов
func flatSeries(n int) models.CandleSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make(models.CandleSeries, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, &models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "1h",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     100,
			High:     100.5,
			Low:      99.5,
			Close:    100.1,
			Volume:   1000,
		})
	}
	return candles
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := NewAnalyzer(testConfig())

	result := a.Analyze(flatSeries(10))
	if result.Direction != models.DirectionNeutral {
		t.Fatalf("expected neutral direction on short series, got %s", result.Direction)
	}
	if result.SignalDetected {
		t.Fatal("expected no signal on short series")
	}
}

func TestAnalyzeQuietMarket(t *testing.T) {
	a := NewAnalyzer(testConfig())

	result := a.Analyze(flatSeries(60))
	if result.SignalDetected {
		t.Fatal("expected no signal in a quiet market")
	}
	if result.Direction != models.DirectionNeutral {
		t.Fatalf("expected neutral direction in a quiet market, got %s", result.Direction)
	}
}

func TestAnalyzeFindsOrderBlock(t *testing.T) {
	a := NewAnalyzer(testConfig())

	candles := flatSeries(60)
	// Свеча с доминирующим телом на двукратном объеме
	candles[50] = &models.Candle{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		OpenTime: candles[50].OpenTime,
		Open:     100,
		High:     102.1,
		Low:      99.9,
		Close:    102,
		Volume:   2500,
	}

	result := a.Analyze(candles)
	if len(result.OrderBlocks) != 1 {
		t.Fatalf("expected one order block, got %d", len(result.OrderBlocks))
	}

	block := result.OrderBlocks[0]
	if block.Direction != models.DirectionBullish {
		t.Fatalf("expected bullish order block, got %s", block.Direction)
	}
	if block.Index != 50 {
		t.Fatalf("expected order block at index 50, got %d", block.Index)
	}
	if block.Strength <= 0 || block.Strength > 3 {
		t.Fatalf("block strength must stay within (0,3], got %f", block.Strength)
	}
}

func TestAnalyzeFindsStopHuntLow(t *testing.T) {
	a := NewAnalyzer(testConfig())

	candles := flatSeries(60)
	// Пробой минимума на объеме с возвратом следующим баром
	candles[50] = &models.Candle{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		OpenTime: candles[50].OpenTime,
		Open:     100,
		High:     100.2,
		Low:      98.5,
		Close:    99.0,
		Volume:   2000,
	}
	candles[51] = &models.Candle{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		OpenTime: candles[51].OpenTime,
		Open:     99.0,
		High:     101,
		Low:      98.9,
		Close:    100.8,
		Volume:   1200,
	}

	result := a.Analyze(candles)
	if len(result.StopHunts) == 0 {
		t.Fatal("expected a stop hunt after sweep and reversal")
	}

	hunt := result.StopHunts[0]
	if hunt.Kind != models.StopHuntLow {
		t.Fatalf("expected low-side stop hunt, got %s", hunt.Kind)
	}

	// Вынос нижних стопов голосует за рост
	if result.Direction != models.DirectionBullish {
		t.Fatalf("expected bullish direction after low sweep, got %s", result.Direction)
	}
	if !result.SignalDetected {
		t.Fatal("expected detected signal with stop hunt activity")
	}
}

func TestAnalyzeFindsFairValueGap(t *testing.T) {
	a := NewAnalyzer(testConfig())

	candles := flatSeries(60)
	// Бычий разрыв: максимум первой свечи ниже минимума третьей,
	// текущая цена выше разрыва оставляет его незакрытым
	candles[49] = &models.Candle{OpenTime: candles[49].OpenTime, Open: 100, High: 100.5, Low: 99.5, Close: 100.2, Volume: 1000}
	candles[50] = &models.Candle{OpenTime: candles[50].OpenTime, Open: 100.3, High: 103, Low: 100.2, Close: 102.8, Volume: 1000}
	candles[51] = &models.Candle{OpenTime: candles[51].OpenTime, Open: 102.9, High: 103.5, Low: 102.5, Close: 103.2, Volume: 1000}
	for i := 52; i < 60; i++ {
		candles[i] = &models.Candle{OpenTime: candles[i].OpenTime, Open: 103.2, High: 103.6, Low: 103.0, Close: 103.3, Volume: 1000}
	}

	result := a.Analyze(candles)
	found := false
	for _, gap := range result.FairValueGaps {
		if gap.Direction == models.DirectionBullish && gap.Index == 50 {
			found = true
			if gap.Bottom != 100.5 || gap.Top != 102.5 {
				t.Fatalf("unexpected gap bounds: [%f, %f]", gap.Bottom, gap.Top)
			}
		}
	}
	if !found {
		t.Fatal("expected a bullish fair value gap at index 50")
	}
}
