package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skalibog/bmsa/internal/analysis/aggregator"
	"github.com/skalibog/bmsa/internal/config"
	"github.com/skalibog/bmsa/internal/exchange"
	"github.com/skalibog/bmsa/internal/exchange/liqstream"
	"github.com/skalibog/bmsa/internal/storage"
	"github.com/skalibog/bmsa/internal/ui"
	"github.com/skalibog/bmsa/pkg/logger"
	"github.com/skalibog/bmsa/pkg/models"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(3 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	store := storage.NewMemoryStorage()
	defer store.Close()

	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Запускаем сборщики данных в отдельных горутинах
	dataCollectors := []exchange.DataCollector{
		exchange.NewCandleCollector(client, store, cfg.Trading.Symbol, cfg.Analysis),
		exchange.NewFundingCollector(client, store, cfg.Trading.Symbol, cfg.Funding),
	}
	for _, collector := range dataCollectors {
		collector := collector
		go func() {
			defer collector.Stop()
			if err := collector.Start(ctx); err != nil {
				logger.Warn("Сборщик данных завершился с ошибкой", zap.Error(err))
			}
		}()
	}

	// Потоки ликвидаций со всех бирж сливаются в один канал,
	// журнал пишет единственная горутина
	events := make(chan models.LiquidationEvent, cfg.Heatmap.LogBuffer)
	okxFeed := liqstream.NewOKXFeed(cfg.Trading.OKXInstrument)
	feeds := []liqstream.Feed{
		liqstream.NewBinanceFeed(cfg.Trading.Symbol),
		liqstream.NewBybitFeed(cfg.Trading.BybitSymbol),
		okxFeed,
		liqstream.NewBitmexFeed(cfg.Trading.BitmexSymbol),
	}
	go storage.RunLiquidationWriter(ctx, store, events)
	liqstream.StartAll(ctx, feeds, events)

	// Предзагрузка истории, чтобы карта не пустовала после старта
	preloader := liqstream.NewPreloader(cfg.Trading.Symbol, cfg.Trading.OKXInstrument, okxFeed.ContractValue)
	go preloader.Preload(ctx, events)

	uncalibrated := func() []string {
		if okxFeed.Calibrated() {
			return nil
		}
		return []string{models.ExchangeOKX}
	}
	analyzer := aggregator.NewAnalyzer(cfg, store, uncalibrated)

	userInterface := ui.NewTermUI(cfg.UI)

	// Аналитический цикл: чистый пересчет по таймеру
	go func() {
		// Отложенный старт для накопления данных
		time.Sleep(5 * time.Second)
		userInterface.UpdateView(analyzer.BuildMarketView(ctx))

		ticker := time.NewTicker(time.Duration(cfg.Analysis.IntervalSeconds) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				userInterface.UpdateView(analyzer.BuildMarketView(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Запускаем UI в основном потоке (блокирующий вызов)
	if err := userInterface.Start(); err != nil {
		logger.Error("Интерфейс завершился с ошибкой", zap.Error(err))
	}
	cancel()
}
