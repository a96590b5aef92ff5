package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalibog/dmcore/pkg/models"
)

func testSignal(id, symbol string, createdAt time.Time) *models.Signal {
	return &models.Signal{
		ID:        id,
		Symbol:    symbol,
		Side:      models.SideLong,
		Score:     0.7,
		Entry:     100,
		StopLoss:  98,
		CreatedAt: createdAt,
	}
}

func testPosition(id string) *models.Position {
	return &models.Position{
		ID:         id,
		SignalID:   "sig-" + id,
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		Market:     models.MarketFutures,
		EntryPrice: 100,
		Quantity:   1,
		StopLoss:   98,
		IsOpen:     true,
		OpenedAt:   time.Now(),
	}
}

func TestSignalHistoryOrder(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveSignal(ctx, testSignal(id, "BTCUSDT", now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveSignal: %v", err)
		}
	}
	if err := s.SaveSignal(ctx, testSignal("x", "ETHUSDT", now)); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}

	history, err := s.GetSignalHistory(ctx, "BTCUSDT", 2)
	if err != nil {
		t.Fatalf("GetSignalHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(history))
	}
	if history[0].ID != "c" || history[1].ID != "b" {
		t.Fatalf("expected newest-first order, got %s, %s", history[0].ID, history[1].ID)
	}
}

func TestTryMarkExecutedLimit(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	s.SaveSignal(ctx, testSignal("a", "BTCUSDT", now))
	s.SaveSignal(ctx, testSignal("b", "BTCUSDT", now))

	ok, err := s.TryMarkExecuted(ctx, "a", "BTCUSDT", now, 1)
	if err != nil {
		t.Fatalf("TryMarkExecuted: %v", err)
	}
	if !ok {
		t.Fatal("expected first mark to succeed")
	}

	// Лимит символа на сутки исчерпан
	ok, err = s.TryMarkExecuted(ctx, "b", "BTCUSDT", now, 1)
	if err != nil {
		t.Fatalf("TryMarkExecuted: %v", err)
	}
	if ok {
		t.Fatal("expected second mark to fail under daily limit")
	}

	// Повторная пометка того же сигнала не проходит
	ok, _ = s.TryMarkExecuted(ctx, "a", "BTCUSDT", now, 10)
	if ok {
		t.Fatal("expected re-mark of executed signal to fail")
	}

	count, err := s.CountExecutedToday(ctx, "BTCUSDT", now)
	if err != nil {
		t.Fatalf("CountExecutedToday: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 executed signal, got %d", count)
	}
}

func TestTryMarkExecutedNextDay(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	yesterday := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	today := yesterday.Add(24 * time.Hour)

	s.SaveSignal(ctx, testSignal("a", "BTCUSDT", yesterday))
	if ok, _ := s.TryMarkExecuted(ctx, "a", "BTCUSDT", yesterday, 1); !ok {
		t.Fatal("expected mark to succeed")
	}

	// Вчерашнее исполнение не считается в сегодняшний лимит
	s.SaveSignal(ctx, testSignal("b", "BTCUSDT", today))
	if ok, _ := s.TryMarkExecuted(ctx, "b", "BTCUSDT", today, 1); !ok {
		t.Fatal("expected mark to succeed on the next day")
	}
}

func TestCountExecutedByExecutionDay(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	// Сигнал создан до полуночи UTC, исполнен после нее
	created := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	executed := time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC)

	s.SaveSignal(ctx, testSignal("a", "BTCUSDT", created))
	if ok, _ := s.TryMarkExecuted(ctx, "a", "BTCUSDT", executed, 1); !ok {
		t.Fatal("expected mark to succeed")
	}

	// Исполнение считается в сутках исполнения, а не создания
	count, err := s.CountExecutedToday(ctx, "BTCUSDT", executed)
	if err != nil {
		t.Fatalf("CountExecutedToday: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 executed on the execution day, got %d", count)
	}

	count, err = s.CountExecutedToday(ctx, "BTCUSDT", created)
	if err != nil {
		t.Fatalf("CountExecutedToday: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 executed on the creation day, got %d", count)
	}
}

func TestUnmarkExecuted(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	s.SaveSignal(ctx, testSignal("a", "BTCUSDT", now))
	if ok, _ := s.TryMarkExecuted(ctx, "a", "BTCUSDT", now, 1); !ok {
		t.Fatal("expected mark to succeed")
	}
	if err := s.UnmarkExecuted(ctx, "a"); err != nil {
		t.Fatalf("UnmarkExecuted: %v", err)
	}

	// После отката лимит снова свободен
	if ok, _ := s.TryMarkExecuted(ctx, "a", "BTCUSDT", now, 1); !ok {
		t.Fatal("expected mark to succeed after rollback")
	}

	if err := s.UnmarkExecuted(ctx, "missing"); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal, got %v", err)
	}
}

func TestClosePositionIdempotency(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	s.SavePosition(ctx, testPosition("p1"))

	closedAt := time.Now()
	if err := s.ClosePosition(ctx, "p1", models.CloseTakeProfit, 103, 3, closedAt); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	// Повторное закрытие — явная ошибка
	err := s.ClosePosition(ctx, "p1", models.CloseManual, 104, 4, closedAt)
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}

	pos, err := s.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.IsOpen {
		t.Fatal("expected closed position")
	}
	if pos.CloseReason != models.CloseTakeProfit {
		t.Fatalf("expected first close reason preserved, got %s", pos.CloseReason)
	}
	if pos.RealizedPnL != 3 {
		t.Fatalf("expected realized pnl 3, got %f", pos.RealizedPnL)
	}
	if pos.UnrealizedPnL != 0 {
		t.Fatalf("expected zero unrealized pnl after close, got %f", pos.UnrealizedPnL)
	}

	if err := s.ClosePosition(ctx, "missing", models.CloseManual, 0, 0, closedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOpenPositions(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	s.SavePosition(ctx, testPosition("p1"))
	s.SavePosition(ctx, testPosition("p2"))
	s.ClosePosition(ctx, "p2", models.CloseStopLoss, 98, -2, time.Now())

	open, err := s.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].ID != "p1" {
		t.Fatalf("expected position p1, got %s", open[0].ID)
	}
}

func TestUpdatePositionUnknown(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if err := s.UpdatePosition(ctx, testPosition("ghost")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorageCopiesData(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	pos := testPosition("p1")
	s.SavePosition(ctx, pos)

	// Мутация исходной структуры не должна протекать в хранилище
	pos.Quantity = 999

	stored, err := s.GetPosition(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if stored.Quantity != 1 {
		t.Fatalf("expected stored quantity 1, got %f", stored.Quantity)
	}
}
