// README: Entry point; loads config, wires stores and services, serves HTTP until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridematch/internal/config"
	httptransport "ridematch/internal/http"
	"ridematch/internal/http/handlers"
	"ridematch/internal/infra"
	"ridematch/internal/maps"
	"ridematch/internal/modules/dispatch"
	"ridematch/internal/modules/location"
	"ridematch/internal/modules/notify"
	"ridematch/internal/modules/offer"
	"ridematch/internal/modules/payment"
	"ridematch/internal/modules/rating"
	"ridematch/internal/modules/trip"
	"ridematch/internal/modules/wallet"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ridematch-api stopped", "err", err)
		os.Exit(1)
	}
}

type stores struct {
	trips    trip.Store
	drivers  location.Store
	averages func(rating.TripAverages, rating.DriverRatings) rating.Averages
	offers   func(*trip.Service) offer.Store
	wallets  wallet.Store
	payments payment.Store
}

func postgresStores(db *pgxpool.Pool) stores {
	return stores{
		trips:    trip.NewPGStore(db),
		drivers:  location.NewPGStore(db),
		averages: func(rating.TripAverages, rating.DriverRatings) rating.Averages { return rating.NewPGAverages(db) },
		offers:   func(*trip.Service) offer.Store { return offer.NewPGStore(db) },
		wallets:  wallet.NewPGStore(db),
		payments: payment.NewPGStore(db),
	}
}

func memoryStores() stores {
	return stores{
		trips:    trip.NewMemoryStore(),
		drivers:  location.NewMemoryStore(),
		averages: memoryAverages,
		offers:   func(t *trip.Service) offer.Store { return offer.NewMemoryStore(t) },
		wallets:  wallet.NewMemoryStore(),
		payments: payment.NewMemoryStore(),
	}
}

func memoryAverages(trips rating.TripAverages, drivers rating.DriverRatings) rating.Averages {
	return rating.NewMemoryAverages(trips, drivers, rating.NewMemoryPassengerStore())
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var st stores
	switch cfg.DB.Driver {
	case "postgres":
		if err := infra.MigrateUp(cfg.DB.DSN); err != nil {
			return err
		}
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		st = postgresStores(db)
	default:
		logger.Warn("using in-memory storage; data is lost on restart")
		st = memoryStores()
	}

	var (
		redisClient   *redis.Client
		dispatchStore dispatch.Store = dispatch.NewMemoryStore()
		stats         notify.Stats
		deliveries    handlers.DeliveryTotals
	)
	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		dispatchStore = dispatch.NewRedisStore(redisClient)
		redisStats := notify.NewRedisStats(redisClient, logger)
		stats, deliveries = redisStats, redisStats
	}

	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		a, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		app = a
	}

	verifier, err := newVerifier(ctx, cfg, app)
	if err != nil {
		return err
	}
	sink, err := newSink(ctx, cfg, app, logger)
	if err != nil {
		return err
	}
	fanout := notify.NewFanout(sink, stats, logger, cfg.Notify.Timeout)

	indexKind, err := location.ParseIndexKind(cfg.Matching.Index)
	if err != nil {
		return err
	}
	locationSvc := location.NewService(st.drivers, indexKind, cfg.Matching.RadiusKm, logger)
	tripSvc := trip.NewService(st.trips, locationSvc, fanout, logger)

	var routes dispatch.RouteProvider
	if cfg.Maps.APIKey != "" {
		rs, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
		if err != nil {
			return err
		}
		routes = rs
	}
	dispatchSvc := dispatch.NewService(tripSvc, locationSvc, fanout, dispatchStore, routes, cfg.Matching.RadiusKm, logger)
	offerSvc := offer.NewService(st.offers(tripSvc), tripSvc, locationSvc, fanout, logger)
	ratingSvc := rating.NewService(tripSvc, st.averages(tripSvc, locationSvc), logger)
	walletSvc := wallet.NewService(st.wallets, tripSvc, wallet.Config{
		Currency: cfg.Wallet.Currency,
		Commission: wallet.CommissionConfig{
			Percentage: cfg.Wallet.CommissionPct,
			MinAmount:  cfg.Wallet.CommissionMin,
			MaxAmount:  cfg.Wallet.CommissionMax,
		},
		MinWithdrawal: cfg.Wallet.MinWithdrawal,
	}, logger)

	var gateway payment.Gateway
	if cfg.Payment.GatewayURL != "" && cfg.Payment.PrivateKey != "" {
		gateway = payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.PrivateKey)
	} else {
		logger.Warn("payment gateway not configured; only cash payments are accepted")
	}
	paymentSvc := payment.NewService(st.payments, tripSvc, walletSvc, gateway, fanout, payment.Config{
		Currency:      cfg.Wallet.Currency,
		ReturnURL:     cfg.Payment.ReturnURL,
		WebhookSecret: cfg.Payment.WebhookSecret,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.Deps{
		Dispatch: dispatchSvc,
		Trips:    tripSvc,
		Rating:   ratingSvc,
		Offers:   offerSvc,
		Location: locationSvc,
		Payments: paymentSvc,
		Wallets:  walletSvc,
		Verifier: verifier,
		Logger:   logger,

		Deliveries: deliveries,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, cfg.HTTP.AllowedOrigins, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr, "db", cfg.DB.Driver, "index", indexKind, "auth", cfg.Auth.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if err := fanout.Drain(shutdownCtx); err != nil {
		logger.Warn("notifications still in flight at shutdown", "err", err)
	}
	return nil
}

func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "jwt" {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
	if app == nil {
		return nil, errors.New("firebase.project_id is required when auth.mode=firebase")
	}
	return infra.NewFirebaseVerifier(ctx, app)
}

func newSink(ctx context.Context, cfg config.Config, app *firebase.App, logger *slog.Logger) (notify.Sink, error) {
	if cfg.Notify.Sink != "fcm" {
		return notify.NewLogSink(logger), nil
	}
	if app == nil {
		return nil, errors.New("notify.sink=fcm needs firebase.project_id")
	}
	if cfg.Firebase.DatabaseURL == "" {
		return nil, errors.New("notify.sink=fcm needs firebase.database_url for device tokens")
	}
	msg, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	rtdb, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase database: %w", err)
	}
	return notify.NewFCMSink(msg, notify.NewRTDBTokens(rtdb), logger), nil
}
