package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"helpdesk/auth"
	"helpdesk/contract"
	"helpdesk/domain"
	devent "helpdesk/domain/event"
	"helpdesk/gateway"
	"helpdesk/httpapi"
	"helpdesk/moderation"
	"helpdesk/observability"
	"helpdesk/presence"
	"helpdesk/repositories"
	"helpdesk/search"
	"helpdesk/summary"
	"helpdesk/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so deferred cleanup always executes.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Storage (BadgerDB) & search index
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	index, err := search.Open(config.BlugeFilepath, log)
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		_ = index.Close()
	}()

	// 3. Core components
	conversations := repositories.NewConversationRepository(db, log)
	users := repositories.NewUserRepository(db)
	tokens := auth.NewTokens(config.JWTSecret, config.AuthTokenDuration)
	verifier := auth.NewVerifier(tokens, users)

	mask, err := config.MaskRune()
	if err != nil {
		return err
	}
	moderator, err := moderation.NewModeratorFromEmbedded(mask)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	registry := presence.NewRegistry()
	stats := observability.NewStats()
	events := make(chan devent.DomainEvent, config.EventBufferSize)

	gw := gateway.NewGateway(log, conversations, users, registry, moderator,
		stats, events, domain.StatusPolicy{AllowCustomerReopen: config.AllowCustomerReopen})
	socket := gateway.NewSocketHandler(log, verifier, gw, stats, config.ConnectionBufferSize)

	// 4. Background workers under supervision
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	sinks := []contract.EventSink{index}
	if config.SummarizerURL != "" {
		summarizer := summary.NewHTTPSummarizer(config.SummarizerURL, config.SummarizerTimeout, log)
		summaryWorker := workers.NewSummaryWorker(log, conversations, summarizer, config.SummaryQueueSize)
		sinks = append(sinks, summaryWorker)
		supervisor.Add(summaryWorker)
	}
	supervisor.Add(workers.NewEventFanout(log, events, sinks...))
	supervisor.Add(workers.NewHealthWorker(log, stats, registry.ActiveConnections, config.HealthInterval))

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go supervisor.Run(ctx)

	// 6. HTTP & websocket surface
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	api := httpapi.New(log, verifier, gw, conversations, index, socket, stats)
	api.Register(app)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address)
		if err := app.Listen(address); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	_ = app.Shutdown()
	supervisor.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
