package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/internal/risk"
	"github.com/skalibog/dmcore/internal/storage"
	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// Ограничения размеров позиций
const (
	spotRiskMultiple    = 10.0 // спотовый размер кратен риску на сделку
	spotBalanceShare    = 0.5  // не больше половины спотового баланса
	futuresBalanceShare = 0.3  // не больше 30% баланса с учетом плеча
	defaultPrecision    = 6
)

// ErrLeverageMismatch — жесткая граница корректности: торговать
// с неподтвержденным плечом запрещено
var ErrLeverageMismatch = errors.New("плечо не подтверждено биржей")

// ExchangeClient определяет операции биржи, необходимые исполнителю
type ExchangeClient interface {
	GetBalance(ctx context.Context, market models.MarketType) (*models.Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetLeverage(ctx context.Context, symbol string) (int, error)
	PlaceMarketOrder(ctx context.Context, market models.MarketType, symbol string, side models.Side, quantity string) (string, error)
	CancelOpenOrders(ctx context.Context, market models.MarketType, symbol string) error
	GetTicker(ctx context.Context, market models.MarketType, symbol string) (float64, error)
}

// Executor исполняет сигналы на двух рынках: проверяет шлюзы,
// выбирает рынок, рассчитывает размер, отправляет ордер и ведет
// позицию до закрытия
type Executor struct {
	config   config.ExecutorConfig
	riskMgr  *risk.Manager
	exchange ExchangeClient
	storage  storage.Storage
}

// NewExecutor создает новый исполнитель сигналов
func NewExecutor(cfg config.ExecutorConfig, riskMgr *risk.Manager, exchange ExchangeClient, store storage.Storage) *Executor {
	return &Executor{
		config:   cfg,
		riskMgr:  riskMgr,
		exchange: exchange,
		storage:  store,
	}
}

// ExecuteSignal проводит сигнал через конвейер
// анализ → шлюзы → выбор рынка → исполнение → сохранение позиции.
// Отклонение шлюзом — ожидаемый исход, а не ошибка.
func (e *Executor) ExecuteSignal(ctx context.Context, sig *models.Signal) *models.ExecutionResult {
	if sig == nil {
		return reject(models.MarketNone, "пустой сигнал")
	}

	// Валидация риск-параметров до любых сетевых вызовов
	warnings, err := e.riskMgr.Validate(sig)
	if err != nil {
		return reject(models.MarketNone, fmt.Sprintf("валидация: %v", err))
	}
	for _, w := range warnings {
		logger.Warn("Предупреждение валидации сигнала", zap.String("symbol", sig.Symbol), zap.String("warning", w))
	}

	// Шлюз дубликатов: не больше лимита исполнений символа в сутки
	count, err := e.storage.CountExecutedToday(ctx, sig.Symbol, time.Now())
	if err != nil {
		return failure(models.MarketNone, fmt.Sprintf("ошибка проверки дубликатов: %v", err), false)
	}
	if count >= e.config.MaxSignalsPerDay {
		return reject(models.MarketNone, "duplicate")
	}

	// Выбор рынка по таблице решений; непригодность обоих рынков —
	// отклонение по качеству
	volatility := volatilityProxy(sig)
	decision := e.SelectMarket(sig, volatility)
	logger.Info("Выбор рынка",
		zap.String("symbol", sig.Symbol),
		zap.String("market", string(decision.Market)),
		zap.Float64("confidence", decision.Confidence),
		zap.Strings("reasoning", decision.Reasoning))
	if decision.Market == models.MarketNone {
		return reject(models.MarketNone, "quality: сигнал не подходит ни одному рынку")
	}

	balance, err := e.exchange.GetBalance(ctx, decision.Market)
	if err != nil {
		return failure(decision.Market, fmt.Sprintf("ошибка получения баланса: %v", err), false)
	}
	if balance.Free < e.config.MinBalance {
		return reject(decision.Market, fmt.Sprintf("свободный баланс %.2f ниже минимума %.2f", balance.Free, e.config.MinBalance))
	}

	// Канонический риск на сделку от фактического баланса
	params, err := e.riskMgr.PositionParams(sig.Side, sig.Entry, sig.StopLoss, balance.Free, nil)
	if err != nil {
		return reject(decision.Market, fmt.Sprintf("риск-параметры: %v", err))
	}

	// Портфельный потолок риска
	open, err := e.storage.GetOpenPositions(ctx)
	if err != nil {
		return failure(decision.Market, fmt.Sprintf("ошибка получения открытых позиций: %v", err), false)
	}
	portfolio := e.riskMgr.AggregateRisk(open, balance.Total)
	if err := e.riskMgr.CheckCeiling(portfolio, params.RiskAmount, balance.Total); err != nil {
		return reject(decision.Market, fmt.Sprintf("портфельный риск: %v", err))
	}

	var quantity float64
	leverage := 1
	switch decision.Market {
	case models.MarketSpot:
		quantity = e.spotQuantity(sig, params.RiskAmount, balance.Free)
	case models.MarketFutures:
		leverage = e.config.Leverage
		if leverage > e.config.MaxLeverage {
			leverage = e.config.MaxLeverage
		}
		// Установка и верификация плеча строго до расчета размера
		if err := e.verifyLeverage(ctx, sig.Symbol, leverage); err != nil {
			return failure(models.MarketFutures, fmt.Sprintf("критическая ошибка плеча: %v", err), true)
		}
		quantity = e.futuresQuantity(sig, params.RiskAmount, balance.Free, leverage)
	}

	if quantity <= 0 {
		return reject(decision.Market, "нулевой размер позиции")
	}
	quantityStr := e.roundQuantity(sig.Symbol, quantity)

	// Атомарная резервация исполнения до отправки ордера защищает
	// от двойного исполнения конкурентными циклами
	ok, err := e.storage.TryMarkExecuted(ctx, sig.ID, sig.Symbol, time.Now(), e.config.MaxSignalsPerDay)
	if err != nil {
		return failure(decision.Market, fmt.Sprintf("ошибка пометки исполнения: %v", err), false)
	}
	if !ok {
		return reject(decision.Market, "duplicate")
	}

	orderID, err := e.exchange.PlaceMarketOrder(ctx, decision.Market, sig.Symbol, sig.Side, quantityStr)
	if err != nil {
		// Ордер не отправлен — откатываем резервацию, позиция не сохраняется
		if unmarkErr := e.storage.UnmarkExecuted(ctx, sig.ID); unmarkErr != nil {
			logger.Error("Не удалось откатить пометку исполнения",
				zap.String("signal_id", sig.ID), zap.Error(unmarkErr))
		}
		return failure(decision.Market, fmt.Sprintf("ошибка отправки ордера: %v", err), false)
	}

	quantityFinal, _ := decimal.NewFromString(quantityStr)
	position := &models.Position{
		ID:           uuid.NewString(),
		SignalID:     sig.ID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Market:       decision.Market,
		EntryPrice:   sig.Entry,
		Quantity:     quantityFinal.InexactFloat64(),
		Leverage:     leverage,
		StopLoss:     sig.StopLoss,
		TakeProfit:   firstTakeProfit(sig),
		CurrentPrice: sig.Entry,
		IsOpen:       true,
		OpenedAt:     time.Now(),
	}
	if err := e.storage.SavePosition(ctx, position); err != nil {
		// Ордер уже на бирже, потерю строки фиксируем в логе
		logger.Error("Ордер исполнен, но позиция не сохранена",
			zap.String("symbol", sig.Symbol),
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	logger.Info("Сигнал исполнен",
		zap.String("symbol", sig.Symbol),
		zap.String("market", string(decision.Market)),
		zap.String("order_id", orderID),
		zap.String("quantity", quantityStr),
		zap.Int("leverage", leverage))

	return &models.ExecutionResult{
		Success:    true,
		Market:     decision.Market,
		PositionID: position.ID,
	}
}

// verifyLeverage устанавливает плечо и подтверждает его у биржи.
// Двухшаговый протокол последовательный: установка, затем проверка.
func (e *Executor) verifyLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := e.exchange.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}

	actual, err := e.exchange.GetLeverage(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLeverageMismatch, err)
	}
	if actual != leverage {
		return fmt.Errorf("%w: запрошено %d, установлено %d", ErrLeverageMismatch, leverage, actual)
	}
	return nil
}

// spotQuantity рассчитывает спотовый размер: кратный риску,
// но не больше половины баланса
func (e *Executor) spotQuantity(sig *models.Signal, riskAmount, freeBalance float64) float64 {
	notional := math.Min(riskAmount*spotRiskMultiple, freeBalance*spotBalanceShare)
	return notional / sig.Entry
}

// futuresQuantity рассчитывает фьючерсный размер от риска и плеча
// с ограничением долей баланса и символьным минимумом
func (e *Executor) futuresQuantity(sig *models.Signal, riskAmount, freeBalance float64, leverage int) float64 {
	stopDistance := math.Abs(sig.Entry - sig.StopLoss)
	if stopDistance == 0 {
		return 0
	}

	quantity := riskAmount * float64(leverage) / stopDistance

	maxQuantity := freeBalance * futuresBalanceShare * float64(leverage) / sig.Entry
	if quantity > maxQuantity {
		quantity = maxQuantity
	}

	if floor, ok := e.config.MinQuantity[sig.Symbol]; ok && quantity < floor {
		quantity = floor
	}

	return quantity
}

// roundQuantity округляет количество вниз до точности символа
func (e *Executor) roundQuantity(symbol string, quantity float64) string {
	precision := int32(defaultPrecision)
	if p, ok := e.config.Precision[symbol]; ok {
		precision = p
	}
	return decimal.NewFromFloat(quantity).Truncate(precision).String()
}

// volatilityProxy оценивает ожидаемое движение как долю цены входа
func volatilityProxy(sig *models.Signal) float64 {
	if sig.Entry == 0 {
		return 0
	}
	takeProfit := firstTakeProfit(sig)
	if takeProfit == 0 {
		return math.Abs(sig.Entry-sig.StopLoss) / sig.Entry
	}
	return math.Abs(takeProfit-sig.StopLoss) / sig.Entry
}

// firstTakeProfit возвращает первый уровень лестницы тейк-профитов
func firstTakeProfit(sig *models.Signal) float64 {
	if len(sig.TakeProfits) == 0 {
		return 0
	}
	return sig.TakeProfits[0]
}

// reject формирует отклонение шлюзом: ожидаемый исход с причиной
func reject(market models.MarketType, reason string) *models.ExecutionResult {
	return &models.ExecutionResult{Market: market, Reason: reason}
}

// failure формирует сбой исполнения
func failure(market models.MarketType, reason string, critical bool) *models.ExecutionResult {
	return &models.ExecutionResult{Market: market, Reason: reason, CriticalError: critical}
}
