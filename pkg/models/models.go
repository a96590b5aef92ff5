package models

import (
	"fmt"
	"time"
)

// Direction представляет направление, определенное анализатором
type Direction string

const (
	DirectionUp         Direction = "up"
	DirectionDown       Direction = "down"
	DirectionNeutral    Direction = "neutral"
	DirectionMixed      Direction = "mixed"
	DirectionBullish    Direction = "bullish"
	DirectionBearish    Direction = "bearish"
	DirectionDivergence Direction = "divergence"
)

// Side представляет сторону сделки
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// MarketType представляет тип рынка для исполнения
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketNone    MarketType = "none"
)

// CloseReason представляет причину закрытия позиции
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "TAKE_PROFIT"
	CloseStopLoss    CloseReason = "STOP_LOSS"
	CloseManual      CloseReason = "manual"
	CloseEndOfPeriod CloseReason = "END_OF_PERIOD"
	CloseAPIFailure  CloseReason = "api_failure"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// CandleSeries представляет упорядоченную серию свечей одного символа и таймфрейма.
// Инвариант: время открытия строго возрастает.
type CandleSeries []*Candle

// Validate проверяет монотонность серии по времени
func (s CandleSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].OpenTime.After(s[i-1].OpenTime) {
			return fmt.Errorf("нарушен порядок свечей: %v после %v", s[i].OpenTime, s[i-1].OpenTime)
		}
	}
	return nil
}

// Closes возвращает цены закрытия в порядке серии
func (s CandleSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Highs возвращает максимумы в порядке серии
func (s CandleSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows возвращает минимумы в порядке серии
func (s CandleSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Volumes возвращает объемы в порядке серии
func (s CandleSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// Last возвращает последнюю (самую свежую) свечу серии
func (s CandleSeries) Last() *Candle {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// TrendAnalysis представляет результат трендового анализа
type TrendAnalysis struct {
	Direction      Direction
	Strength       float64
	Score          float64
	EMAFast        float64
	EMASlow        float64
	EMATrend       float64
	ADX            float64
	RSI            float64
	MACDHist       float64
	EMAAligned     bool
	MomentumAgrees bool
}

// LevelKind тип уровня: поддержка или сопротивление
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// Level представляет уровень поддержки или сопротивления
type Level struct {
	Price    float64
	Kind     LevelKind
	Strength float64
	Touches  int
	Distance float64
}

// SmoothTrailAnalysis представляет результат анализа уровней поддержки/сопротивления
type SmoothTrailAnalysis struct {
	Support           bool
	Resistance        bool
	Levels            []Level
	NearestSupport    *Level
	NearestResistance *Level
}

// LiquidityAnalysis представляет результат анализа ликвидности
type LiquidityAnalysis struct {
	Direction          Direction
	Score              float64
	VolumeRatio        float64
	VolumeConfirmation bool
	VWAP               float64
	VWAPSignal         Direction
	Reclaim            bool
	Rejection          bool
	OBVTrend           float64
}

// OrderBlock представляет ордер-блок: сильная свеча на повышенном объеме
type OrderBlock struct {
	Index       int
	Direction   Direction
	High        float64
	Low         float64
	VolumeRatio float64
	Strength    float64
}

// FairValueGap представляет трехсвечной ценовой разрыв
type FairValueGap struct {
	Index     int
	Direction Direction
	Top       float64
	Bottom    float64
	Size      float64
	Filled    bool
}

// StopHuntKind сторона выноса стопов
type StopHuntKind string

const (
	StopHuntHigh StopHuntKind = "high"
	StopHuntLow  StopHuntKind = "low"
)

// StopHunt представляет вынос стопов: пробой экстремума с быстрым возвратом
type StopHunt struct {
	Index            int
	Kind             StopHuntKind
	SweepSize        float64
	VolumeRatio      float64
	ReversalStrength float64
}

// SmartMoneyAnalysis представляет результат анализа следов крупных игроков
type SmartMoneyAnalysis struct {
	Direction      Direction
	SignalDetected bool
	Activity       float64
	OrderBlocks    []OrderBlock
	FairValueGaps  []FairValueGap
	StopHunts      []StopHunt
}

// Signal представляет торговый сигнал
type Signal struct {
	ID           string
	Symbol       string
	Timeframe    string
	Side         Side
	Score        float64
	Entry        float64
	StopLoss     float64
	TakeProfits  []float64
	RiskReward   float64
	PositionSize float64
	RiskAmount   float64
	Confluence   map[string]bool
	Context      string
	Executed     bool
	ExecutedAt   time.Time
	CreatedAt    time.Time
}

// Position представляет открытую или закрытую позицию.
// Одна позиция всегда восходит ровно к одному сигналу.
type Position struct {
	ID            string
	SignalID      string
	ParentID      string
	Symbol        string
	Side          Side
	Market        MarketType
	EntryPrice    float64
	Quantity      float64
	Leverage      int
	StopLoss      float64
	TakeProfit    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	IsOpen        bool
	CloseReason   CloseReason
	RealizedPnL   float64
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// Balance представляет баланс счета
type Balance struct {
	Free     float64
	Total    float64
	Currency string
}

// MarketDecision представляет решение о выборе рынка с обоснованием
type MarketDecision struct {
	Market     MarketType
	Confidence float64
	Reasoning  []string
}

// ExecutionResult представляет результат попытки исполнения сигнала
type ExecutionResult struct {
	Success       bool
	Market        MarketType
	PositionID    string
	Reason        string
	CriticalError bool
}

// PositionSnapshot представляет срез состояния позиции на момент мониторинга
type PositionSnapshot struct {
	PositionID    string
	Symbol        string
	Side          Side
	Market        MarketType
	EntryPrice    float64
	CurrentPrice  float64
	Quantity      float64
	Leverage      int
	UnrealizedPnL float64
}

// CloseResult представляет итог закрытия позиции
type CloseResult struct {
	PositionID  string
	RealizedPnL float64
	Reason      CloseReason
}

// FundingRate представляет ставку финансирования
type FundingRate struct {
	Symbol          string
	Rate            float64
	Timestamp       time.Time
	NextFundingTime time.Time
}
