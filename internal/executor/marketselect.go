package executor

import (
	"fmt"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

// Пороги таблицы решений для сигналов, пригодных обоим рынкам
const (
	highScoreThreshold = 0.80
	midScoreThreshold  = 0.70
	highVolThreshold   = 0.03
)

// SelectMarket выбирает рынок исполнения по критериям пригодности
// и таблице решений. Непригодность обоих рынков — MarketNone.
func (e *Executor) SelectMarket(sig *models.Signal, volatility float64) models.MarketDecision {
	decision := models.MarketDecision{Market: models.MarketNone}

	spotOK, spotReason := meetsCriteria(e.config.Spot, sig, volatility)
	futuresOK, futuresReason := meetsCriteria(e.config.Futures, sig, volatility)

	switch {
	case !spotOK && !futuresOK:
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("спот непригоден: %s", spotReason),
			fmt.Sprintf("фьючерсы непригодны: %s", futuresReason))

	case spotOK && !futuresOK:
		decision.Market = models.MarketSpot
		decision.Confidence = sig.Score
		decision.Reasoning = append(decision.Reasoning,
			"пригоден только спот",
			fmt.Sprintf("фьючерсы непригодны: %s", futuresReason))

	case !spotOK && futuresOK:
		decision.Market = models.MarketFutures
		decision.Confidence = sig.Score
		decision.Reasoning = append(decision.Reasoning,
			"пригодны только фьючерсы",
			fmt.Sprintf("спот непригоден: %s", spotReason))

	default:
		decision = e.resolveBothEligible(sig, volatility)
	}

	return decision
}

// resolveBothEligible применяет таблицу решений, когда сигнал
// пригоден обоим рынкам: сила сигнала и волатильность определяют
// рынок, равенство разрешается настройкой предпочтения
func (e *Executor) resolveBothEligible(sig *models.Signal, volatility float64) models.MarketDecision {
	decision := models.MarketDecision{Confidence: sig.Score}
	decision.Reasoning = append(decision.Reasoning, "пригодны оба рынка")

	switch {
	case sig.Score >= highScoreThreshold && volatility >= highVolThreshold:
		decision.Market = models.MarketFutures
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("сильный сигнал %.2f при высокой волатильности %.1f%% — фьючерсы", sig.Score, volatility*100))

	case sig.Score >= highScoreThreshold:
		decision.Market = models.MarketSpot
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("сильный сигнал %.2f при низкой волатильности %.1f%% — спот", sig.Score, volatility*100))

	case sig.Score >= midScoreThreshold && volatility >= highVolThreshold:
		decision.Market = models.MarketFutures
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("сигнал %.2f при высокой волатильности %.1f%% — фьючерсы", sig.Score, volatility*100))

	default:
		if e.config.PreferFuturesOnTie {
			decision.Market = models.MarketFutures
			decision.Reasoning = append(decision.Reasoning, "равные условия, предпочтение отдано фьючерсам")
		} else {
			decision.Market = models.MarketSpot
			decision.Reasoning = append(decision.Reasoning, "равные условия, предпочтение отдано споту")
		}
	}

	return decision
}

// meetsCriteria проверяет пригодность сигнала рынку по его критериям
func meetsCriteria(c config.MarketCriteria, sig *models.Signal, volatility float64) (bool, string) {
	if sig.Score < c.MinScore {
		return false, fmt.Sprintf("сила %.2f ниже порога %.2f", sig.Score, c.MinScore)
	}
	if !containsTimeframe(c.Timeframes, sig.Timeframe) {
		return false, fmt.Sprintf("таймфрейм %s вне допустимых %v", sig.Timeframe, c.Timeframes)
	}
	if volatility < c.MinVolatility {
		return false, fmt.Sprintf("волатильность %.2f%% ниже минимума %.2f%%", volatility*100, c.MinVolatility*100)
	}
	if c.MaxVolatility > 0 && volatility > c.MaxVolatility {
		return false, fmt.Sprintf("волатильность %.2f%% выше максимума %.2f%%", volatility*100, c.MaxVolatility*100)
	}
	return true, ""
}

func containsTimeframe(timeframes []string, tf string) bool {
	for _, t := range timeframes {
		if t == tf {
			return true
		}
	}
	return false
}
