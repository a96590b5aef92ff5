package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/skalibog/dmcore/internal/analysis/confluence"
	"github.com/skalibog/dmcore/internal/config"
	"github.com/skalibog/dmcore/internal/engine"
	"github.com/skalibog/dmcore/internal/exchange"
	"github.com/skalibog/dmcore/internal/executor"
	"github.com/skalibog/dmcore/internal/risk"
	"github.com/skalibog/dmcore/internal/storage"
	"github.com/skalibog/dmcore/pkg/indicators"
	"github.com/skalibog/dmcore/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Переменные окружения из .env перекрывают ключи из конфигурации
	if err := godotenv.Load(); err == nil {
		logger.Info("Загружен файл .env")
	}

	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Binance.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Binance.APISecret = secret
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Инициализируем хранилище
	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer store.Close()

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Собираем конвейер: источник сигналов → риск → исполнитель → движок
	source, err := confluence.NewSource(cfg.Analysis, client, client, cfg.Trading.CandleLimit)
	if err != nil {
		logger.Fatal("Ошибка создания источника сигналов", zap.Error(err))
	}
	riskMgr := risk.NewManager(cfg.Risk, indicators.NewTALib())
	exec := executor.NewExecutor(cfg.Executor, riskMgr, client, store)
	eng := engine.NewEngine(cfg, source, riskMgr, exec, client, store)

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		eng.Shutdown(shutdownCtx)
		cancel()
	}()

	// Цикл сканирования и исполнения сигналов
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Trading.ScanSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := eng.ScanAndExecute(ctx); err != nil {
					logger.Error("Цикл сканирования остановлен ошибкой", zap.Error(err))
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Цикл мониторинга открытых позиций
	monitorTicker := time.NewTicker(time.Duration(cfg.Trading.MonitorSeconds) * time.Second)
	defer monitorTicker.Stop()

	for {
		select {
		case <-monitorTicker.C:
			snapshots, err := eng.MonitorPositions(ctx)
			if err != nil {
				logger.Error("Ошибка мониторинга позиций", zap.Error(err))
				continue
			}
			for _, s := range snapshots {
				logger.Info("Открытая позиция",
					zap.String("symbol", s.Symbol),
					zap.String("side", string(s.Side)),
					zap.String("market", string(s.Market)),
					zap.Float64("current_price", s.CurrentPrice),
					zap.Float64("unrealized_pnl", s.UnrealizedPnL))
			}
		case <-ctx.Done():
			return
		}
	}
}
