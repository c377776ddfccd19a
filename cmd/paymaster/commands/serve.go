package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/paymaster/adapters/events"
	"github.com/layer-3/paymaster/adapters/ledger"
	"github.com/layer-3/paymaster/adapters/store"
	"github.com/layer-3/paymaster/adapters/tokenizer"
	"github.com/layer-3/paymaster/internal/config"
	"github.com/layer-3/paymaster/internal/logging"
	"github.com/layer-3/paymaster/ports"
	"github.com/layer-3/paymaster/service"
	transport "github.com/layer-3/paymaster/transport/http"
)

const (
	serverTimeout   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), configFile)
			if err != nil {
				return err
			}

			logging.Init(cfg.LogLevel)

			if err := cfg.Valid(); err != nil {
				slog.Error("invalid configuration", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	identities, err := cfg.Identities()
	if err != nil {
		return err
	}

	endpoint, err := cfg.RPCEndpoint()
	if err != nil {
		return err
	}

	sponsorship, err := cfg.Sponsorship()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, store.Options{
		Backend:  cfg.StoreBackend,
		RedisURL: cfg.RedisURL,
		BoltPath: cfg.BoltPath,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer st.Close()

	tok, err := newTokenizer(cfg)
	if err != nil {
		return err
	}

	eventPub, err := newEventPublisher(cfg, st)
	if err != nil {
		return err
	}
	if closer, ok := eventPub.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Error("failed to close event publisher", "err", err)
			}
		}()
	}

	chain := ledger.NewRPCLedger(endpoint)

	authService := service.NewAuthService(tok, st, identities)
	rules := service.NewSponsorshipRules(st, chain, sponsorship)
	broadcaster := service.NewBroadcaster(chain, cfg.RebroadcastInterval)
	relayService := service.NewRelayService(rules, identities, chain, broadcaster, eventPub)
	fees := service.NewFeeEstimator(chain, cfg.FeeCacheTTL, service.WithLookbackSlots(cfg.FeeLookbackSlots))

	monitor := service.NewBalanceMonitor(
		chain,
		identities.Primary().PublicKey(),
		cfg.BalanceCheckInterval,
		decimal.NewFromFloat(cfg.LowBalanceThresholdSOL),
	)

	gin.SetMode(gin.ReleaseMode)

	handlers := transport.NewRelayHandlers(authService, relayService, rules, fees, chain, identities)
	router, err := transport.SetupRouter(handlers, st, transport.RateLimits{
		Window: cfg.RateLimitWindow,
		Global: cfg.RateLimitGlobal,
		Strict: cfg.RateLimitStrict,
	}, cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("failed to set up router: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
	}

	slog.Info("relay listening",
		"addr", srv.Addr,
		"rpc", endpoint,
		"store", cfg.StoreBackend,
		"relayerPublicKey", identities.Primary().PublicKey().String(),
		"identities", len(identities.PublicKeys()),
	)

	return runServer(ctx, srv, monitor.Run)
}

// runServer serves until ctx ends or the listener fails, then shuts srv down
// gracefully. background tasks run alongside and have returned by the time
// runServer does.
func runServer(ctx context.Context, srv *http.Server, background ...func(context.Context)) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, run := range background {
		g.Go(func() error {
			run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newTokenizer prefers a shared HS256 secret, then a PEM encoded P-256 key.
// Without either, credentials do not survive a restart.
func newTokenizer(cfg *config.Config) (ports.Tokenizer, error) {
	if cfg.JWTSecret != "" {
		return tokenizer.NewHMACTokenizer([]byte(cfg.JWTSecret)), nil
	}

	if cfg.JWTSigningKeyPEM != "" {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.JWTSigningKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT signing key: %w", err)
		}
		return tokenizer.NewJWTTokenizer(key), nil
	}

	slog.Warn("no JWT key configured, generating an ephemeral signing key")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT signing key: %w", err)
	}
	return tokenizer.NewJWTTokenizer(key), nil
}

func newEventPublisher(cfg *config.Config, st ports.Store) (ports.EventPublisher, error) {
	if !cfg.EventsEnabled {
		return events.NopPublisher{}, nil
	}

	rs, ok := st.(*store.RedisStore)
	if !ok {
		slog.Info("relay events need the redis backend, publishing disabled", "store", cfg.StoreBackend)
		return events.NopPublisher{}, nil
	}

	return events.NewRedisStreamPublisher(rs.Client(), watermill.NewSlogLogger(slog.Default()))
}
