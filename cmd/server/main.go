package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lighttrail/internal/api"
	"lighttrail/internal/config"
	"lighttrail/internal/game"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🏍️ ================================")
	log.Println("🏍️  LIGHT TRAIL - GAME SERVER")
	log.Println("🏍️ ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration: %v", err)
	}
	serverCfg := appConfig.Server

	rules := game.RulesFromConfig(appConfig)
	log.Printf("🎮 Config: %d TPS, arena %.0fx%.0f, step %.2f/tick, turn %.3f rad/tick, radius %.0f",
		serverCfg.TickRate, appConfig.Arena.Width, appConfig.Arena.Height, rules.Step, rules.Turn, rules.Radius)
	log.Printf("🛡️ Limits: %d players, %d websockets per IP", serverCfg.MaxPlayers, serverCfg.MaxConnsPerIP)
	if serverCfg.AllowAnyOrigin {
		log.Println("⚠️ ALLOW_ANY_ORIGIN is set: websocket origin check disabled")
	}

	store := game.NewStore(rules)
	engine := game.NewEngine(store, game.EngineConfig{
		TickRate:      serverCfg.TickRate,
		CountdownStep: appConfig.Lobby.CountdownStep.Std(),
		ResetDelay:    appConfig.Lobby.ResetDelay.Std(),
	})
	engine.OnTick = api.RecordTick

	// Start event log
	eventLogPath := appConfig.Observability.EventLogPath
	if err := store.Events().Start(eventLogPath); err != nil {
		log.Printf("⚠️ Event log disabled: %v", err)
	} else if eventLogPath != "" {
		log.Printf("📝 Event log: %s", eventLogPath)
	}
	if err := api.RegisterEventLogMetrics(store.Events()); err != nil {
		log.Printf("⚠️ Event log metrics: %v", err)
	}

	// Start debug server
	if err := api.StartDebugServer(api.ObservabilityFromConfig(appConfig.Observability)); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	server := api.NewServer(engine, serverCfg)

	engine.Start()
	log.Println("✅ Game Engine started")

	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	engine.Stop()
	store.Events().Stop()
	log.Println("👋 Goodbye!")
}
