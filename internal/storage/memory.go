package storage

import (
	"context"
	"sync"
	"time"

	"github.com/skalibog/dmcore/pkg/models"
)

// MemoryStorage реализует Storage в памяти процесса.
// Используется в тестах и при работе без внешней базы.
type MemoryStorage struct {
	mu        sync.Mutex
	signals   map[string]*models.Signal
	positions map[string]*models.Position
	// Порядок вставки для истории
	signalOrder []string
}

// NewMemoryStorage создает хранилище в памяти
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		signals:   make(map[string]*models.Signal),
		positions: make(map[string]*models.Position),
	}
}

// Close освобождает ресурсы хранилища
func (s *MemoryStorage) Close() {}

// SaveSignal сохраняет сигнал
func (s *MemoryStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *signal
	if _, ok := s.signals[signal.ID]; !ok {
		s.signalOrder = append(s.signalOrder, signal.ID)
	}
	s.signals[signal.ID] = &cp
	return nil
}

// GetSignalHistory возвращает последние сигналы символа, новые первыми
func (s *MemoryStorage) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Signal
	for i := len(s.signalOrder) - 1; i >= 0 && len(out) < limit; i-- {
		sig := s.signals[s.signalOrder[i]]
		if sig.Symbol == symbol {
			cp := *sig
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountExecutedToday считает сигналы символа, исполненные за календарные
// сутки. Сутки определяются по моменту исполнения, а не создания сигнала.
func (s *MemoryStorage) CountExecutedToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countExecutedLocked(symbol, now), nil
}

func (s *MemoryStorage) countExecutedLocked(symbol string, now time.Time) int {
	count := 0
	for _, sig := range s.signals {
		if sig.Symbol == symbol && sig.Executed && sameDay(sig.ExecutedAt, now) {
			count++
		}
	}
	return count
}

// TryMarkExecuted атомарно проверяет дневной лимит и помечает сигнал исполненным
func (s *MemoryStorage) TryMarkExecuted(ctx context.Context, signalID, symbol string, now time.Time, maxPerDay int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[signalID]
	if !ok {
		return false, ErrNoSignal
	}
	if sig.Executed {
		return false, nil
	}
	if s.countExecutedLocked(symbol, now) >= maxPerDay {
		return false, nil
	}

	sig.Executed = true
	sig.ExecutedAt = now
	return true, nil
}

// UnmarkExecuted откатывает пометку исполнения
func (s *MemoryStorage) UnmarkExecuted(ctx context.Context, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[signalID]
	if !ok {
		return ErrNoSignal
	}
	sig.Executed = false
	sig.ExecutedAt = time.Time{}
	return nil
}

// SavePosition сохраняет позицию
func (s *MemoryStorage) SavePosition(ctx context.Context, position *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *position
	s.positions[position.ID] = &cp
	return nil
}

// UpdatePosition обновляет существующую позицию
func (s *MemoryStorage) UpdatePosition(ctx context.Context, position *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[position.ID]; !ok {
		return ErrNotFound
	}
	cp := *position
	s.positions[position.ID] = &cp
	return nil
}

// ClosePosition закрывает позицию ровно один раз.
// Повторное закрытие возвращает ошибку, а не тихий успех.
func (s *MemoryStorage) ClosePosition(ctx context.Context, id string, reason models.CloseReason, exitPrice, realizedPnL float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return ErrNotFound
	}
	if !pos.IsOpen {
		return ErrAlreadyClosed
	}

	pos.IsOpen = false
	pos.CloseReason = reason
	pos.CurrentPrice = exitPrice
	pos.RealizedPnL = realizedPnL
	pos.UnrealizedPnL = 0
	pos.ClosedAt = closedAt
	return nil
}

// GetPosition возвращает позицию по идентификатору
func (s *MemoryStorage) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

// GetOpenPositions возвращает все открытые позиции
func (s *MemoryStorage) GetOpenPositions(ctx context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Position
	for _, pos := range s.positions {
		if pos.IsOpen {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}
