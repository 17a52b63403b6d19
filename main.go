package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"

	"candleflow/config"
	"candleflow/internal/engine"
	"candleflow/internal/footprint"
	"candleflow/internal/market"
	"candleflow/internal/server"
	"candleflow/internal/source"
	"candleflow/internal/stream"
	"candleflow/internal/viewport"
	"candleflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.Candleflow.Name,
		"version":  cfg.Candleflow.Version,
		"symbol":   cfg.Chart.Symbol,
		"interval": cfg.Chart.Interval,
	}).Info("starting candleflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	binanceClient := binance.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"))
	primary := source.NewBinance(binanceClient, source.BinanceOptions{
		MaxPages:          cfg.Ledger.TradeFetchMaxPage,
		RequestsPerSecond: cfg.Ledger.TradeFetchRPS,
		Burst:             cfg.Ledger.TradeFetchBurst,
	})
	dataSource := source.NewFallback(primary, source.NewSynthetic())

	interval := market.Interval(cfg.Chart.Interval)
	eng := engine.New(ctx, dataSource, engine.Config{
		Symbol:         cfg.Chart.Symbol,
		Interval:       interval,
		InitialCandles: cfg.Chart.InitialCandles,
		BackBuffer:     cfg.Chart.BackBuffer,
		Viewport: viewport.Options{
			MinVisible:        cfg.Viewport.MinVisible,
			MaxVisible:        cfg.Viewport.MaxVisible,
			DefaultVisible:    cfg.Viewport.DefaultVisible,
			MaxOverscroll:     cfg.Viewport.MaxOverscroll,
			BaseLeftPad:       cfg.Viewport.BaseLeftPad,
			BaseRightPad:      cfg.Viewport.BaseRightPad,
			PricePadFraction:  cfg.Viewport.PricePadFraction,
			BackfillChunk:     cfg.Viewport.BackfillChunk,
			BackfillThreshold: cfg.Viewport.BackfillThreshold,
		},
		Footprint: footprint.Options{
			MaxLevels:         cfg.Footprint.MaxLevels,
			ValueAreaFraction: cfg.Footprint.ValueAreaFraction,
		},
		LiveRingCapacity: cfg.Ledger.LiveRingCapacity,
		TradeDebounce:    cfg.Stream.TradeDebounce.Std(),
	})
	defer eng.Close()

	if err := eng.Load(ctx); err != nil {
		log.WithError(err).Error("Failed to load initial chart data")
		os.Exit(1)
	}

	feed := stream.NewFeed(cfg.Chart.Symbol, interval, stream.Options{
		ReconnectDelay: cfg.Stream.ReconnectDelay.Std(),
		EventBuffer:    cfg.Stream.EventBuffer,
	})
	feed.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx, feed.Candles(), feed.Trades())
	}()

	if cfg.Server.Enabled {
		srv := server.New(eng, server.Options{
			Addr:          cfg.Server.Addr,
			FrameInterval: cfg.Server.FrameInterval.Std(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Error("server failed")
			}
		}()
	} else {
		log.WithComponent("main").Info("presentation server disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream feed")
	feed.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("candleflow stopped")
}
