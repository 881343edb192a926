package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xprocessing/neoaigc/internal/infra"
	"github.com/xprocessing/neoaigc/internal/remote/remotetest"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", ":8080", "listen address")
	autoLogin := flag.Int("auto-login", 3, "resolve each login challenge on this probe (0 = never)")
	rateLimit := flag.Int("rate-limit", 0, "requests per second per caller (0 = unlimited)")
	flag.Parse()

	logger := infra.NewLogger(os.Getenv("APP_ENV")).With().Str("cmd", "stubserver").Logger()

	fake := remotetest.New(remotetest.Options{
		Secret:         os.Getenv("STUB_JWT_SECRET"),
		AutoLoginAfter: *autoLogin,
		RateLimit:      *rateLimit,
		Logger:         &logger,
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           fake.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Msgf("stub image service listening on %s%s", *addr, remotetest.APIPrefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
