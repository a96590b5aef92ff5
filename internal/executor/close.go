package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalibog/dmcore/internal/storage"
	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// ClosePosition закрывает позицию полностью: снимает защитные ордера,
// отправляет встречный рыночный ордер и фиксирует реализованный PnL.
// Повторное закрытие возвращает storage.ErrAlreadyClosed.
func (e *Executor) ClosePosition(ctx context.Context, positionID string, reason models.CloseReason) (*models.CloseResult, error) {
	pos, err := e.storage.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen {
		return nil, storage.ErrAlreadyClosed
	}

	exitPrice, estimated, err := e.exitPosition(ctx, pos, pos.Quantity)
	if err != nil {
		return nil, err
	}
	if estimated {
		reason = models.CloseAPIFailure
	}

	realizedPnL := signedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	closedAt := time.Now()
	if err := e.storage.ClosePosition(ctx, pos.ID, reason, exitPrice, realizedPnL, closedAt); err != nil {
		return nil, err
	}

	logger.Info("Позиция закрыта",
		zap.String("position_id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("realized_pnl", realizedPnL))

	return &models.CloseResult{
		PositionID:  pos.ID,
		RealizedPnL: realizedPnL,
		Reason:      reason,
	}, nil
}

// closePartial закрывает половину позиции дочерней записью:
// дочерняя позиция фиксирует реализованную часть, исходная
// продолжает жить с уменьшенным объемом
func (e *Executor) closePartial(ctx context.Context, pos *models.Position, reason models.CloseReason) (*models.CloseResult, error) {
	half := pos.Quantity / 2

	exitPrice, estimated, err := e.exitPosition(ctx, pos, half)
	if err != nil {
		return nil, err
	}
	if estimated {
		reason = models.CloseAPIFailure
	}

	realizedPnL := signedPnL(pos.Side, pos.EntryPrice, exitPrice, half)
	now := time.Now()

	child := &models.Position{
		ID:          uuid.NewString(),
		SignalID:    pos.SignalID,
		ParentID:    pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Market:      pos.Market,
		EntryPrice:  pos.EntryPrice,
		Quantity:    half,
		Leverage:    pos.Leverage,
		StopLoss:    pos.StopLoss,
		TakeProfit:  pos.TakeProfit,
		RealizedPnL: realizedPnL,
		CloseReason: reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now,
	}
	if err := e.storage.SavePosition(ctx, child); err != nil {
		return nil, fmt.Errorf("ошибка сохранения дочерней позиции: %w", err)
	}

	pos.Quantity -= half
	pos.UnrealizedPnL = signedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	if err := e.storage.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("ошибка обновления исходной позиции: %w", err)
	}

	logger.Info("Частичное закрытие позиции",
		zap.String("position_id", pos.ID),
		zap.String("child_id", child.ID),
		zap.String("symbol", pos.Symbol),
		zap.Float64("closed_quantity", half),
		zap.Float64("realized_pnl", realizedPnL))

	return &models.CloseResult{
		PositionID:  child.ID,
		RealizedPnL: realizedPnL,
		Reason:      reason,
	}, nil
}

// exitPosition снимает защитные ордера и исполняет встречный
// рыночный ордер на указанный объем, возвращая цену выхода.
// Если биржа не отдала тикер после исполнения, выход оценивается
// последней известной ценой и помечается как оцененный.
func (e *Executor) exitPosition(ctx context.Context, pos *models.Position, quantity float64) (float64, bool, error) {
	if err := e.exchange.CancelOpenOrders(ctx, pos.Market, pos.Symbol); err != nil {
		logger.Warn("Не удалось снять открытые ордера",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	}

	opposite := models.SideShort
	if pos.Side == models.SideShort {
		opposite = models.SideLong
	}

	quantityStr := e.roundQuantity(pos.Symbol, quantity)
	if _, err := e.exchange.PlaceMarketOrder(ctx, pos.Market, pos.Symbol, opposite, quantityStr); err != nil {
		return 0, false, fmt.Errorf("ошибка закрывающего ордера: %w", err)
	}

	exitPrice, err := e.exchange.GetTicker(ctx, pos.Market, pos.Symbol)
	estimated := err != nil
	if err != nil {
		// Ордер уже исполнен, оцениваем выход последней известной ценой
		logger.Warn("Тикер недоступен, выход оценен последней ценой",
			zap.String("symbol", pos.Symbol), zap.Error(err))
		exitPrice = pos.CurrentPrice
	}
	if exitPrice == 0 {
		exitPrice = pos.EntryPrice
	}
	return exitPrice, estimated, nil
}
