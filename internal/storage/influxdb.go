package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/pkg/models"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB.
// InfluxDB append-only, поэтому каждое состояние сигнала и позиции
// записывается новой точкой, а чтение берет последнюю точку по тегу id.
// Атомарность TryMarkExecuted обеспечивается мьютексом процесса:
// развертывание предполагается в одном экземпляре.
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string

	markMu sync.Mutex
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveSignal сохраняет сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.Signal) error {
	s.writeAPI.WritePoint(signalPoint(signal))
	s.writeAPI.Flush()
	return nil
}

// signalPoint формирует точку состояния сигнала
func signalPoint(signal *models.Signal) *write.Point {
	fields := map[string]interface{}{
		"score":         signal.Score,
		"entry":         signal.Entry,
		"stop_loss":     signal.StopLoss,
		"risk_reward":   signal.RiskReward,
		"position_size": signal.PositionSize,
		"risk_amount":   signal.RiskAmount,
		"executed":      signal.Executed,
		"executed_at":   signal.ExecutedAt.Unix(),
		"context":       signal.Context,
	}
	for i, tp := range signal.TakeProfits {
		fields[fmt.Sprintf("tp%d", i+1)] = tp
	}

	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"id":        signal.ID,
			"symbol":    signal.Symbol,
			"timeframe": signal.Timeframe,
			"side":      string(signal.Side),
		},
		fields,
		signal.CreatedAt,
	)
}

// GetSignalHistory получает историю сигналов символа, новые первыми
func (s *InfluxDBStorage) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.Signal, error) {
	// Точек на сигнал может быть несколько, берем с запасом и снимаем дубли
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit*3)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сигналов: %w", err)
	}

	seen := make(map[string]bool)
	var signals []*models.Signal
	for result.Next() && len(signals) < limit {
		record := result.Record()

		id, _ := record.ValueByKey("id").(string)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		signals = append(signals, signalFromRecord(record, symbol))
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return signals, nil
}

// signalFromRecord восстанавливает сигнал из строки результата
func signalFromRecord(rec *query.FluxRecord, symbol string) *models.Signal {
	id, _ := rec.ValueByKey("id").(string)
	timeframe, _ := rec.ValueByKey("timeframe").(string)
	side, _ := rec.ValueByKey("side").(string)
	score, _ := rec.ValueByKey("score").(float64)
	entry, _ := rec.ValueByKey("entry").(float64)
	stopLoss, _ := rec.ValueByKey("stop_loss").(float64)
	riskReward, _ := rec.ValueByKey("risk_reward").(float64)
	positionSize, _ := rec.ValueByKey("position_size").(float64)
	riskAmount, _ := rec.ValueByKey("risk_amount").(float64)
	executed, _ := rec.ValueByKey("executed").(bool)
	executedAt, _ := rec.ValueByKey("executed_at").(int64)
	contextStr, _ := rec.ValueByKey("context").(string)

	signal := &models.Signal{
		ID:           id,
		Symbol:       symbol,
		Timeframe:    timeframe,
		Side:         models.Side(side),
		Score:        score,
		Entry:        entry,
		StopLoss:     stopLoss,
		RiskReward:   riskReward,
		PositionSize: positionSize,
		RiskAmount:   riskAmount,
		Executed:     executed,
		Context:      contextStr,
		CreatedAt:    rec.Time(),
	}
	if executedAt > 0 {
		signal.ExecutedAt = time.Unix(executedAt, 0).UTC()
	}
	for i := 1; i <= 3; i++ {
		if tp, ok := rec.ValueByKey(fmt.Sprintf("tp%d", i)).(float64); ok {
			signal.TakeProfits = append(signal.TakeProfits, tp)
		}
	}

	return signal
}

// CountExecutedToday считает сигналы символа, исполненные за календарные
// сутки. Точки хранятся по времени создания сигнала, поэтому сутки
// сверяются по полю executed_at, а не по диапазону точек.
func (s *InfluxDBStorage) CountExecutedToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> filter(fn: (r) => r.executed == true and r.executed_at >= %d and r.executed_at < %d)
			|> sort(columns: ["_time"], desc: true)
	`, s.bucket, symbol, dayStart.Unix(), dayStart.AddDate(0, 0, 1).Unix())

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса исполненных сигналов: %w", err)
	}

	seen := make(map[string]bool)
	for result.Next() {
		id, _ := result.Record().ValueByKey("id").(string)
		if id != "" {
			seen[id] = true
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return len(seen), nil
}

// TryMarkExecuted атомарно (в пределах процесса) проверяет дневной лимит
// и помечает сигнал исполненным
func (s *InfluxDBStorage) TryMarkExecuted(ctx context.Context, signalID, symbol string, now time.Time, maxPerDay int) (bool, error) {
	s.markMu.Lock()
	defer s.markMu.Unlock()

	count, err := s.CountExecutedToday(ctx, symbol, now)
	if err != nil {
		return false, err
	}
	if count >= maxPerDay {
		return false, nil
	}

	signal, err := s.findSignal(ctx, signalID, symbol)
	if err != nil {
		return false, err
	}
	if signal.Executed {
		return false, nil
	}

	signal.Executed = true
	signal.ExecutedAt = now
	s.writeAPI.WritePoint(signalPoint(signal))
	s.writeAPI.Flush()
	return true, nil
}

// UnmarkExecuted откатывает пометку исполнения
func (s *InfluxDBStorage) UnmarkExecuted(ctx context.Context, signalID string) error {
	s.markMu.Lock()
	defer s.markMu.Unlock()

	signal, err := s.findSignal(ctx, signalID, "")
	if err != nil {
		return err
	}

	signal.Executed = false
	signal.ExecutedAt = time.Time{}
	s.writeAPI.WritePoint(signalPoint(signal))
	s.writeAPI.Flush()
	return nil
}

// findSignal получает последнее состояние сигнала по идентификатору
func (s *InfluxDBStorage) findSignal(ctx context.Context, signalID, symbol string) (*models.Signal, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.id == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, s.bucket, signalID)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сигнала: %w", err)
	}

	if result.Next() {
		rec := result.Record()
		if symbol == "" {
			symbol, _ = rec.ValueByKey("symbol").(string)
		}
		return signalFromRecord(rec, symbol), nil
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return nil, ErrNoSignal
}

// SavePosition сохраняет позицию
func (s *InfluxDBStorage) SavePosition(ctx context.Context, position *models.Position) error {
	s.writeAPI.WritePoint(positionPoint(position))
	s.writeAPI.Flush()
	return nil
}

// UpdatePosition записывает новое состояние позиции
func (s *InfluxDBStorage) UpdatePosition(ctx context.Context, position *models.Position) error {
	return s.SavePosition(ctx, position)
}

// ClosePosition закрывает позицию ровно один раз
func (s *InfluxDBStorage) ClosePosition(ctx context.Context, id string, reason models.CloseReason, exitPrice, realizedPnL float64, closedAt time.Time) error {
	s.markMu.Lock()
	defer s.markMu.Unlock()

	position, err := s.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	if !position.IsOpen {
		return ErrAlreadyClosed
	}

	position.IsOpen = false
	position.CloseReason = reason
	position.CurrentPrice = exitPrice
	position.RealizedPnL = realizedPnL
	position.UnrealizedPnL = 0
	position.ClosedAt = closedAt

	s.writeAPI.WritePoint(positionPoint(position))
	s.writeAPI.Flush()
	return nil
}

// positionPoint формирует точку состояния позиции
func positionPoint(position *models.Position) *write.Point {
	return influxdb2.NewPoint(
		"positions",
		map[string]string{
			"id":        position.ID,
			"symbol":    position.Symbol,
			"side":      string(position.Side),
			"market":    string(position.Market),
			"signal_id": position.SignalID,
			"parent_id": position.ParentID,
		},
		map[string]interface{}{
			"entry_price":    position.EntryPrice,
			"quantity":       position.Quantity,
			"leverage":       int64(position.Leverage),
			"stop_loss":      position.StopLoss,
			"take_profit":    position.TakeProfit,
			"current_price":  position.CurrentPrice,
			"unrealized_pnl": position.UnrealizedPnL,
			"realized_pnl":   position.RealizedPnL,
			"is_open":        position.IsOpen,
			"close_reason":   string(position.CloseReason),
			"opened_at":      position.OpenedAt.Unix(),
			"closed_at":      position.ClosedAt.Unix(),
		},
		time.Now(),
	)
}

// GetPosition возвращает последнее состояние позиции по идентификатору
func (s *InfluxDBStorage) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -90d)
			|> filter(fn: (r) => r._measurement == "positions")
			|> filter(fn: (r) => r.id == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, s.bucket, id)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса позиции: %w", err)
	}

	if result.Next() {
		return positionFromRecord(result.Record()), nil
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return nil, ErrNotFound
}

// GetOpenPositions возвращает последние состояния всех открытых позиций
func (s *InfluxDBStorage) GetOpenPositions(ctx context.Context) ([]*models.Position, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -90d)
			|> filter(fn: (r) => r._measurement == "positions")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group(columns: ["id"])
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, s.bucket)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса открытых позиций: %w", err)
	}

	var positions []*models.Position
	for result.Next() {
		position := positionFromRecord(result.Record())
		if position.IsOpen {
			positions = append(positions, position)
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return positions, nil
}

// positionFromRecord восстанавливает позицию из строки результата
func positionFromRecord(rec *query.FluxRecord) *models.Position {
	id, _ := rec.ValueByKey("id").(string)
	symbol, _ := rec.ValueByKey("symbol").(string)
	side, _ := rec.ValueByKey("side").(string)
	market, _ := rec.ValueByKey("market").(string)
	signalID, _ := rec.ValueByKey("signal_id").(string)
	parentID, _ := rec.ValueByKey("parent_id").(string)
	entryPrice, _ := rec.ValueByKey("entry_price").(float64)
	quantity, _ := rec.ValueByKey("quantity").(float64)
	leverage, _ := rec.ValueByKey("leverage").(int64)
	stopLoss, _ := rec.ValueByKey("stop_loss").(float64)
	takeProfit, _ := rec.ValueByKey("take_profit").(float64)
	currentPrice, _ := rec.ValueByKey("current_price").(float64)
	unrealized, _ := rec.ValueByKey("unrealized_pnl").(float64)
	realized, _ := rec.ValueByKey("realized_pnl").(float64)
	isOpen, _ := rec.ValueByKey("is_open").(bool)
	closeReason, _ := rec.ValueByKey("close_reason").(string)
	openedAt, _ := rec.ValueByKey("opened_at").(int64)
	closedAt, _ := rec.ValueByKey("closed_at").(int64)

	return &models.Position{
		ID:            id,
		SignalID:      signalID,
		ParentID:      parentID,
		Symbol:        symbol,
		Side:          models.Side(side),
		Market:        models.MarketType(market),
		EntryPrice:    entryPrice,
		Quantity:      quantity,
		Leverage:      int(leverage),
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		CurrentPrice:  currentPrice,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		IsOpen:        isOpen,
		CloseReason:   models.CloseReason(closeReason),
		OpenedAt:      time.Unix(openedAt, 0),
		ClosedAt:      time.Unix(closedAt, 0),
	}
}
