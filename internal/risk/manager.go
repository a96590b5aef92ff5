package risk

import (
	"fmt"
	"math"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/models"
)

// Границы клампа процента риска на сделку
const (
	minRiskPercent = 0.1
	maxRiskPercent = 5.0
)

// Множители лестницы тейк-профитов
var (
	rMultiples   = []float64{1.5, 2.5, 4.0}
	atrMultiples = []float64{2.0, 3.0, 5.0}
	atrPeriod    = 14
)

// Params представляет риск-параметры позиции
type Params struct {
	RiskAmount       float64
	PositionSize     float64
	StopLoss         float64
	TakeProfits      []float64
	RiskReward       float64
	VolatilityFactor float64
	Warnings         []string
}

// PortfolioRisk представляет агрегированный риск портфеля
type PortfolioRisk struct {
	TotalRisk     float64
	RiskPercent   float64
	MaxSingleRisk float64
	Diversity     float64
	Positions     int
}

// Manager рассчитывает размер позиции, лестницу тейк-профитов
// и агрегированный риск портфеля
type Manager struct {
	config config.RiskConfig
	lib    indicators.Library
}

// NewManager создает новый менеджер рисков
func NewManager(cfg config.RiskConfig, lib indicators.Library) *Manager {
	return &Manager{
		config: cfg,
		lib:    lib,
	}
}

// PositionParams рассчитывает риск-параметры по входу и стопу.
// Серия свечей необязательна: без нее пропускаются поправка на
// волатильность и ATR-лестница.
func (m *Manager) PositionParams(side models.Side, entry, stop, balance float64, candles models.CandleSeries) (*Params, error) {
	if entry <= 0 {
		return nil, fmt.Errorf("некорректная цена входа: %f", entry)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("некорректный баланс: %f", balance)
	}

	riskPercent := clamp(m.config.RiskPercent, minRiskPercent, maxRiskPercent)
	riskAmount := balance * riskPercent / 100

	// Вырожденный стоп заменяем стопом по умолчанию, деление на ноль
	// здесь невозможно
	if stop == entry {
		if side == models.SideLong {
			stop = entry * (1 - m.config.DefaultStopPercent/100)
		} else {
			stop = entry * (1 + m.config.DefaultStopPercent/100)
		}
	}

	stopDistance := math.Abs(entry - stop)
	size := riskAmount / stopDistance

	// Поправка на волатильность при наличии свечей
	volFactor := 1.0
	if len(candles) > 1 {
		volFactor = m.volatilityFactor(candles)
		size *= volFactor
	}

	takeProfits := m.takeProfitLadder(side, entry, stopDistance, candles)

	rr := 0.0
	if len(takeProfits) > 0 {
		rr = math.Abs(takeProfits[0]-entry) / stopDistance
	}

	params := &Params{
		RiskAmount:       riskAmount,
		PositionSize:     size,
		StopLoss:         stop,
		TakeProfits:      takeProfits,
		RiskReward:       rr,
		VolatilityFactor: volFactor,
	}

	if rr < m.config.MinRiskReward {
		params.Warnings = append(params.Warnings,
			fmt.Sprintf("соотношение риск/прибыль %.2f ниже минимума %.2f", rr, m.config.MinRiskReward))
	}

	return params, nil
}

// volatilityFactor уменьшает размер позиции на волатильном рынке
func (m *Manager) volatilityFactor(candles models.CandleSeries) float64 {
	closes := candles.Closes()
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}

	// Годовая волатильность из стандартного отклонения доходностей
	annualized := indicators.StdDev(returns) * math.Sqrt(periodsPerYear(candles[0].Interval))

	switch {
	case annualized > 0.5:
		return 0.7
	case annualized > 0.3:
		return 0.85
	default:
		return 1.0
	}
}

// takeProfitLadder строит три уровня тейк-профита: по ATR, если он
// вычислим, иначе по фиксированным R-множителям
func (m *Manager) takeProfitLadder(side models.Side, entry, stopDistance float64, candles models.CandleSeries) []float64 {
	sign := 1.0
	if side == models.SideShort {
		sign = -1.0
	}

	if len(candles) > atrPeriod {
		atr := indicators.Last(m.lib.ATR(candles.Highs(), candles.Lows(), candles.Closes(), atrPeriod))
		if atr > 0 {
			out := make([]float64, len(atrMultiples))
			for i, mult := range atrMultiples {
				out[i] = entry + sign*mult*atr
			}
			return out
		}
	}

	out := make([]float64, len(rMultiples))
	for i, mult := range rMultiples {
		out[i] = entry + sign*mult*stopDistance
	}
	return out
}

// Validate проверяет согласованность параметров сигнала.
// Нарушения сторон стопа и тейк-профита — ошибки, низкое соотношение
// риск/прибыль — предупреждение.
func (m *Manager) Validate(sig *models.Signal) ([]string, error) {
	if sig.Entry == sig.StopLoss {
		return nil, fmt.Errorf("нулевой риск: вход и стоп совпадают (%f)", sig.Entry)
	}

	switch sig.Side {
	case models.SideLong:
		if sig.StopLoss >= sig.Entry {
			return nil, fmt.Errorf("стоп %f не на убыточной стороне от входа %f для LONG", sig.StopLoss, sig.Entry)
		}
		for _, tp := range sig.TakeProfits {
			if tp <= sig.Entry {
				return nil, fmt.Errorf("тейк-профит %f не на прибыльной стороне от входа %f для LONG", tp, sig.Entry)
			}
		}
	case models.SideShort:
		if sig.StopLoss <= sig.Entry {
			return nil, fmt.Errorf("стоп %f не на убыточной стороне от входа %f для SHORT", sig.StopLoss, sig.Entry)
		}
		for _, tp := range sig.TakeProfits {
			if tp >= sig.Entry {
				return nil, fmt.Errorf("тейк-профит %f не на прибыльной стороне от входа %f для SHORT", tp, sig.Entry)
			}
		}
	default:
		return nil, fmt.Errorf("неизвестная сторона сигнала: %q", sig.Side)
	}

	var warnings []string
	if len(sig.TakeProfits) > 0 {
		rr := math.Abs(sig.TakeProfits[0]-sig.Entry) / math.Abs(sig.Entry-sig.StopLoss)
		if rr < m.config.MinRiskReward {
			warnings = append(warnings,
				fmt.Sprintf("соотношение риск/прибыль %.2f ниже минимума %.2f", rr, m.config.MinRiskReward))
		}
	}

	return warnings, nil
}

// AggregateRisk суммирует риск открытых позиций
func (m *Manager) AggregateRisk(positions []*models.Position, balance float64) PortfolioRisk {
	pr := PortfolioRisk{}
	symbols := make(map[string]struct{})

	for _, p := range positions {
		if !p.IsOpen {
			continue
		}
		posRisk := math.Abs(p.EntryPrice-p.StopLoss) * p.Quantity
		pr.TotalRisk += posRisk
		if posRisk > pr.MaxSingleRisk {
			pr.MaxSingleRisk = posRisk
		}
		pr.Positions++
		symbols[p.Symbol] = struct{}{}
	}

	if balance > 0 {
		pr.RiskPercent = pr.TotalRisk / balance * 100
	}
	if pr.Positions > 0 {
		// Наивная диверсификация: доля уникальных символов
		pr.Diversity = float64(len(symbols)) / float64(pr.Positions)
	}

	return pr
}

// CheckCeiling проверяет, что новая позиция не выводит совокупный риск
// портфеля за потолок
func (m *Manager) CheckCeiling(pr PortfolioRisk, newRisk, balance float64) error {
	if balance <= 0 {
		return fmt.Errorf("некорректный баланс: %f", balance)
	}

	projected := (pr.TotalRisk + newRisk) / balance * 100
	if projected > m.config.PortfolioCeiling {
		return fmt.Errorf("риск портфеля %.2f%% превысит потолок %.2f%%", projected, m.config.PortfolioCeiling)
	}
	return nil
}

// periodsPerYear возвращает количество периодов таймфрейма в году
func periodsPerYear(interval string) float64 {
	switch interval {
	case "1m":
		return 60 * 24 * 365
	case "5m":
		return 12 * 24 * 365
	case "15m":
		return 4 * 24 * 365
	case "30m":
		return 2 * 24 * 365
	case "1h":
		return 24 * 365
	case "4h":
		return 6 * 365
	case "1d":
		return 365
	default:
		return 24 * 365
	}
}

// clamp ограничивает значение заданным диапазоном
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
