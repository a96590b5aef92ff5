package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/dmcore/internal/analysis/confluence"
	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/internal/executor"
	"github.com/skalibog/dmcore/internal/risk"
	"github.com/skalibog/dmcore/internal/storage"
	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// Exchange объединяет биржевые операции, необходимые движку
// и исполнителю
type Exchange interface {
	executor.ExchangeClient
	confluence.CandleSource
	confluence.FundingSource
}

// Engine связывает генерацию сигналов, риск-менеджмент и исполнение
// в единый цикл сканирования
type Engine struct {
	config   *config.Config
	source   confluence.SignalSource
	riskMgr  *risk.Manager
	executor *executor.Executor
	exchange Exchange
	storage  storage.Storage
}

// NewEngine собирает движок из конфигурации и зависимостей
func NewEngine(cfg *config.Config, source confluence.SignalSource, riskMgr *risk.Manager, exec *executor.Executor, exchange Exchange, store storage.Storage) *Engine {
	return &Engine{
		config:   cfg,
		source:   source,
		riskMgr:  riskMgr,
		executor: exec,
		exchange: exchange,
		storage:  store,
	}
}

// ScanSymbol генерирует сигнал по символу на заданном таймфрейме и
// наполняет его риск-параметрами. Пустой таймфрейм берется из
// конфигурации. Отсутствие сигнала — штатный результат (nil, nil).
func (e *Engine) ScanSymbol(ctx context.Context, symbol, timeframe string) (*models.Signal, error) {
	if timeframe == "" {
		timeframe = e.config.Trading.Interval
	}

	sig, err := e.source.Generate(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, nil
	}

	balance, err := e.exchange.GetBalance(ctx, models.MarketFutures)
	if err != nil {
		return nil, err
	}

	// Свечи для волатильности и ATR-лестницы тейк-профитов
	candles, err := e.exchange.GetKlines(ctx, symbol, timeframe, e.config.Trading.CandleLimit)
	if err != nil {
		logger.Warn("Свечи для риск-параметров недоступны",
			zap.String("symbol", symbol), zap.Error(err))
		candles = nil
	}

	params, err := e.riskMgr.PositionParams(sig.Side, sig.Entry, sig.StopLoss, balance.Free, candles)
	if err != nil {
		return nil, err
	}
	sig.StopLoss = params.StopLoss
	sig.TakeProfits = params.TakeProfits
	sig.RiskReward = params.RiskReward
	sig.PositionSize = params.PositionSize
	sig.RiskAmount = params.RiskAmount
	for _, w := range params.Warnings {
		logger.Warn("Предупреждение риск-менеджера",
			zap.String("symbol", symbol), zap.String("warning", w))
	}

	if _, err := e.riskMgr.Validate(sig); err != nil {
		logger.Warn("Сигнал отклонен валидацией риск-параметров",
			zap.String("symbol", symbol), zap.Error(err))
		return nil, nil
	}

	if err := e.storage.SaveSignal(ctx, sig); err != nil {
		logger.Error("Не удалось сохранить сигнал",
			zap.String("symbol", symbol), zap.Error(err))
	}

	logger.Info("Сигнал сформирован",
		zap.String("symbol", symbol),
		zap.String("side", string(sig.Side)),
		zap.Float64("score", sig.Score),
		zap.Float64("entry", sig.Entry),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("risk_reward", sig.RiskReward))

	return sig, nil
}

// ScanAll параллельно сканирует все символы конфигурации.
// Ошибка одного символа не прерывает остальных.
func (e *Engine) ScanAll(ctx context.Context) map[string]*models.Signal {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		signals = make(map[string]*models.Signal)
	)

	for _, symbol := range e.config.Trading.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			scanCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
			defer cancel()

			sig, err := e.ScanSymbol(scanCtx, symbol, e.config.Trading.Interval)
			if err != nil {
				logger.Error("Ошибка сканирования символа",
					zap.String("symbol", symbol), zap.Error(err))
				return
			}
			if sig == nil {
				return
			}

			mu.Lock()
			signals[symbol] = sig
			mu.Unlock()
		}(symbol)
	}

	wg.Wait()
	return signals
}

// ScanAndExecute выполняет полный цикл: сканирование всех символов
// и последовательное исполнение найденных сигналов. Критическая
// ошибка исполнения останавливает цикл.
func (e *Engine) ScanAndExecute(ctx context.Context) error {
	signals := e.ScanAll(ctx)

	for symbol, sig := range signals {
		execCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
		result := e.executor.ExecuteSignal(execCtx, sig)
		cancel()
		if result.CriticalError {
			logger.Error("Критическая ошибка исполнения, цикл остановлен",
				zap.String("symbol", symbol), zap.String("reason", result.Reason))
			return executor.ErrLeverageMismatch
		}
		if !result.Success {
			logger.Info("Сигнал не исполнен",
				zap.String("symbol", symbol),
				zap.String("reason", result.Reason))
			continue
		}

		if err := e.markExecuted(ctx, sig); err != nil {
			logger.Error("Не удалось обновить статус сигнала",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	return nil
}

// markExecuted фиксирует статус и момент исполнения в записи сигнала
func (e *Engine) markExecuted(ctx context.Context, sig *models.Signal) error {
	sig.Executed = true
	sig.ExecutedAt = time.Now().UTC()
	return e.storage.SaveSignal(ctx, sig)
}

// MonitorPositions выполняет один проход мониторинга открытых позиций.
// Проход ограничен таймаутом, чтобы зависший запрос к бирже не
// останавливал цикл.
func (e *Engine) MonitorPositions(ctx context.Context) ([]*models.PositionSnapshot, error) {
	monCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
	defer cancel()
	return e.executor.MonitorOpenPositions(monCtx)
}

// requestTimeout возвращает таймаут сетевых запросов из конфигурации
func (e *Engine) requestTimeout() time.Duration {
	return time.Duration(e.config.Trading.RequestTimeout) * time.Second
}

// ClosePosition закрывает позицию вручную
func (e *Engine) ClosePosition(ctx context.Context, positionID string) (*models.CloseResult, error) {
	return e.executor.ClosePosition(ctx, positionID, models.CloseManual)
}

// Shutdown закрывает все позиции при завершении периода, если
// конфигурация не требует ручного закрытия
func (e *Engine) Shutdown(ctx context.Context) {
	if e.config.Executor.ManualCloseOnly {
		return
	}
	results, err := e.executor.CloseAll(ctx, models.CloseEndOfPeriod)
	if err != nil {
		logger.Error("Ошибка закрытия позиций при завершении", zap.Error(err))
		return
	}
	for _, r := range results {
		logger.Info("Позиция закрыта при завершении периода",
			zap.String("position_id", r.PositionID),
			zap.Float64("realized_pnl", r.RealizedPnL))
	}
}
