package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/dmcore/pkg/logger"
	"github.com/skalibog/dmcore/pkg/models"
)

// Предел параллельных опросов тикеров за цикл мониторинга
const monitorConcurrency = 8

// MonitorOpenPositions обновляет текущие цены и нереализованный PnL
// открытых позиций и закрывает те, что достигли стопа или тейка.
// Позиция с недоступным тикером пропускается до следующего цикла.
func (e *Executor) MonitorOpenPositions(ctx context.Context) ([]*models.PositionSnapshot, error) {
	positions, err := e.storage.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	var (
		mu        sync.Mutex
		snapshots []*models.PositionSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)

	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			snapshot, err := e.refreshPosition(gctx, pos)
			if err != nil {
				logger.Warn("Позиция пропущена в цикле мониторинга",
					zap.String("position_id", pos.ID),
					zap.String("symbol", pos.Symbol),
					zap.Error(err))
				return nil
			}
			if snapshot != nil {
				mu.Lock()
				snapshots = append(snapshots, snapshot)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return snapshots, err
	}
	return snapshots, nil
}

// refreshPosition обновляет позицию свежей ценой и применяет
// автоматические выходы по стопу и тейку
func (e *Executor) refreshPosition(ctx context.Context, pos *models.Position) (*models.PositionSnapshot, error) {
	price, err := e.exchange.GetTicker(ctx, pos.Market, pos.Symbol)
	if err != nil {
		return nil, err
	}

	pos.CurrentPrice = price
	pos.UnrealizedPnL = signedPnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
	if err := e.storage.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}

	snapshot := &models.PositionSnapshot{
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Market:        pos.Market,
		EntryPrice:    pos.EntryPrice,
		CurrentPrice:  price,
		Quantity:      pos.Quantity,
		Leverage:      pos.Leverage,
		UnrealizedPnL: pos.UnrealizedPnL,
	}

	if e.config.ManualCloseOnly {
		return snapshot, nil
	}

	switch {
	case stopTriggered(pos, price):
		logger.Info("Сработал стоп-лосс",
			zap.String("symbol", pos.Symbol),
			zap.Float64("price", price),
			zap.Float64("stop_loss", pos.StopLoss))
		if _, err := e.ClosePosition(ctx, pos.ID, models.CloseStopLoss); err != nil {
			return snapshot, err
		}

	case takeProfitTriggered(pos, price):
		logger.Info("Сработал тейк-профит",
			zap.String("symbol", pos.Symbol),
			zap.Float64("price", price),
			zap.Float64("take_profit", pos.TakeProfit))
		if e.config.PartialClose {
			if _, err := e.closePartial(ctx, pos, models.CloseTakeProfit); err != nil {
				return snapshot, err
			}
		} else {
			if _, err := e.ClosePosition(ctx, pos.ID, models.CloseTakeProfit); err != nil {
				return snapshot, err
			}
		}
	}

	return snapshot, nil
}

// stopTriggered проверяет достижение стоп-лосса
func stopTriggered(pos *models.Position, price float64) bool {
	if pos.StopLoss == 0 {
		return false
	}
	if pos.Side == models.SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

// takeProfitTriggered проверяет достижение тейк-профита
func takeProfitTriggered(pos *models.Position, price float64) bool {
	if pos.TakeProfit == 0 {
		return false
	}
	if pos.Side == models.SideLong {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

// signedPnL считает PnL со знаком стороны позиции
func signedPnL(side models.Side, entry, exit, quantity float64) float64 {
	if side == models.SideLong {
		return (exit - entry) * quantity
	}
	return (entry - exit) * quantity
}

// CloseAll закрывает все открытые позиции с указанной причиной.
// Используется при сбросе статистики и завершении периода.
func (e *Executor) CloseAll(ctx context.Context, reason models.CloseReason) ([]*models.CloseResult, error) {
	positions, err := e.storage.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	var results []*models.CloseResult
	for _, pos := range positions {
		result, err := e.ClosePosition(ctx, pos.ID, reason)
		if err != nil {
			logger.Error("Не удалось закрыть позицию",
				zap.String("position_id", pos.ID),
				zap.String("symbol", pos.Symbol),
				zap.Error(err))
			continue
		}
		results = append(results, result)
	}

	return results, nil
}
