package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GoPolymarket/proxy-trader/internal/chain"
	"github.com/GoPolymarket/proxy-trader/internal/config"
	"github.com/GoPolymarket/proxy-trader/internal/errclass"
	"github.com/GoPolymarket/proxy-trader/internal/linker"
	"github.com/GoPolymarket/proxy-trader/internal/notify"
	"github.com/GoPolymarket/proxy-trader/internal/order"
	"github.com/GoPolymarket/proxy-trader/internal/session"
	"github.com/GoPolymarket/proxy-trader/internal/stage"
	"github.com/GoPolymarket/proxy-trader/internal/venue"
	"github.com/GoPolymarket/proxy-trader/internal/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	marketID := flag.String("market", "", "token id of the outcome to trade")
	side := flag.String("side", "BUY", "BUY or SELL")
	amount := flag.Float64("amount", 0, "order amount in USDC")
	price := flag.Float64("price", 0, "limit price in [0.01, 0.99]")
	marketOrder := flag.Bool("market-order", false, "execute at market instead of limit")
	linkOnly := flag.Bool("link-only", false, "link the wallet and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if strings.TrimSpace(cfg.PrivateKey) == "" {
		logger.Fatal("POLYMARKET_PK is required")
	}

	signer, err := wallet.NewPrivateKeySigner(cfg.PrivateKey)
	if err != nil {
		logger.Fatal("signer", zap.Error(err))
	}
	sdkSigner, err := auth.NewPrivateKeySigner(strings.TrimSpace(cfg.PrivateKey), cfg.ChainID)
	if err != nil {
		logger.Fatal("sdk signer", zap.Error(err))
	}
	owner := signer.Address().Hex()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	sessions, err := session.NewManager(session.Config{
		DataDir: cfg.DataDir,
		TTL:     cfg.Session.TTL,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("session store", zap.Error(err))
	}
	defer func() { _ = sessions.Close() }()

	var provider chain.Provider
	if cfg.RPCURL != "" {
		client, dialErr := chain.Dial(ctx, cfg.RPCURL, logger)
		if dialErr != nil {
			logger.Warn("rpc unavailable, simulation and confirmation disabled", zap.Error(dialErr))
		} else {
			defer client.Close()
			provider = client
		}
	}

	sinks := notify.Fanout{notify.NewLoggerSink(logger)}
	if cfg.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger))
	}
	machine := stage.NewMachine(cfg.Stage.ResetDelay, logger, sinks)
	defer machine.Close()

	classifier := errclass.NewClassifier(sessions, logger)

	sdkClient := polymarket.NewClient()
	pm := venue.NewPolymarket(sdkClient.CLOB, sdkSigner, cfg.ChainID, logger)

	sess, err := sessions.Load(owner)
	if err != nil {
		logger.Fatal("load session", zap.Error(err))
	}
	if sess == nil {
		logger.Info("no live session, linking wallet", zap.String("owner", owner))
		lc := linker.New(pm, sessions, machine, classifier, provider, logger)
		sess, err = lc.Link(ctx, owner, signer)
		if err != nil {
			logger.Fatal("link", zap.Error(err))
		}
	} else {
		logger.Info("using cached session",
			zap.String("owner", owner),
			zap.String("proxy", sess.ProxyAddress),
			zap.Time("created_at", sess.CreatedAt),
		)
	}

	if *linkOnly {
		logger.Info("wallet linked", zap.String("proxy", sess.ProxyAddress))
		return
	}
	if *marketID == "" || *amount <= 0 {
		logger.Fatal("-market and -amount are required to place an order")
	}

	oc := order.New(pm, provider, machine, classifier, order.Config{
		Tick:                decimal.NewFromFloat(cfg.Order.TickSize),
		MinOrderSize:        decimal.NewFromFloat(cfg.Order.MinOrderSize),
		ConfirmationTimeout: cfg.Order.ConfirmationTimeout,
		InputAsset:          cfg.Order.InputAsset,
	}, logger)

	res := oc.PlaceOrder(ctx, order.Request{
		MarketID:    *marketID,
		Side:        strings.ToUpper(strings.TrimSpace(*side)),
		AmountUSDC:  decimal.NewFromFloat(*amount),
		LimitPrice:  decimal.NewFromFloat(*price),
		MarketOrder: *marketOrder,
	}, sess, signer)

	if !res.Success {
		logger.Fatal("order failed",
			zap.String("kind", string(res.Kind)),
			zap.String("message", res.Message),
			zap.Error(res.Err),
		)
	}
	logger.Info("order placed",
		zap.String("order_id", res.OrderID),
		zap.String("tx", res.TxReference),
		zap.String("message", res.Message),
	)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl := zap.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
