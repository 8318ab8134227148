// Command facilitator runs the x402 facilitator service: an HTTP API
// that verifies signed payment authorizations and settles them on chain.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	FACILITATOR_KEY  hex private key paying gas for settlements (required)
//	RPC_URL          EVM node endpoint (required)
//	PORT             listen port, default 8402
//	SUPPORTED        comma-separated scheme:network pairs, e.g.
//	                 "exact:8453,exact:84532"; default exact on Base
//	REDIS_URL        when set, nonces are tracked in Redis instead of
//	                 process memory
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/x402pay/x402-go"
	"github.com/x402pay/x402-go/facilitator"
	"github.com/x402pay/x402-go/keys"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("facilitator exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	keyHex := os.Getenv("FACILITATOR_KEY")
	if keyHex == "" {
		return errors.New("FACILITATOR_KEY is required")
	}
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return errors.New("RPC_URL is required")
	}

	key, err := keys.FromHex(keyHex)
	if err != nil {
		return fmt.Errorf("FACILITATOR_KEY: %w", err)
	}
	logger.Info("settlement account loaded", "address", keys.Address(key).Hex())

	opts := []facilitator.Option{facilitator.WithLogger(logger)}

	if supported := os.Getenv("SUPPORTED"); supported != "" {
		kinds, err := parseSupported(supported)
		if err != nil {
			return fmt.Errorf("SUPPORTED: %w", err)
		}
		opts = append(opts, facilitator.WithSupported(kinds...))
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		opts = append(opts, facilitator.WithNonceStore(facilitator.NewRedisNonceStore(redis.NewClient(redisOpts))))
		logger.Info("using redis nonce store")
	}

	f := facilitator.New(key, rpcURL, opts...)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8402"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("facilitator listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("facilitator stopped")
	return nil
}

// parseSupported parses "scheme:network" pairs separated by commas.
func parseSupported(s string) ([]x402.SupportedKind, error) {
	var kinds []x402.SupportedKind
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed pair %q, want scheme:network", pair)
		}
		kinds = append(kinds, x402.SupportedKind{Scheme: parts[0], Network: parts[1]})
	}
	if len(kinds) == 0 {
		return nil, errors.New("no scheme:network pairs")
	}
	return kinds, nil
}
