package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

// Ошибки хранилища, на которые ветвится исполнение
var (
	ErrNotFound      = errors.New("позиция не найдена")
	ErrAlreadyClosed = errors.New("позиция уже закрыта")
	ErrNoSignal      = errors.New("сигнал не найден")
)

// Storage определяет персистентность сигналов и позиций.
// TryMarkExecuted — единственная операция, требующая атомарного
// чтения-и-записи: она защищает от двойного исполнения одного символа
// при конкурентных циклах сканирования.
type Storage interface {
	// Сигналы
	SaveSignal(ctx context.Context, signal *models.Signal) error
	GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error)
	CountExecutedToday(ctx context.Context, symbol string, now time.Time) (int, error)
	// TryMarkExecuted атомарно проверяет дневной лимит символа и помечает
	// сигнал исполненным. false означает проигранную гонку или лимит.
	TryMarkExecuted(ctx context.Context, signalID, symbol string, now time.Time, maxPerDay int) (bool, error)
	// UnmarkExecuted откатывает пометку, если после нее не удалось
	// отправить ордер
	UnmarkExecuted(ctx context.Context, signalID string) error

	// Позиции
	SavePosition(ctx context.Context, position *models.Position) error
	UpdatePosition(ctx context.Context, position *models.Position) error
	ClosePosition(ctx context.Context, id string, reason models.CloseReason, exitPrice, realizedPnL float64, closedAt time.Time) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	GetOpenPositions(ctx context.Context) ([]*models.Position, error)

	Close()
}

// New создает хранилище по типу из конфигурации
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "influxdb":
		return NewInfluxDBStorage(cfg)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %q", cfg.Type)
	}
}

// sameDay сравнивает календарные дни в UTC
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
