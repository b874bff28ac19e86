package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yourusername/ctp-bridge/pkg/config"
	"github.com/yourusername/ctp-bridge/pkg/engine"
)

const (
	appName    = "CTPBridge"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "./configs/bridge.yaml", "Configuration file path")
	envFile    = flag.String("env", "", "Credentials .env file path (optional)")
	logFile    = flag.String("log-file", "", "Log file path (overrides config)")
	mode       = flag.String("mode", "", "Run mode: live, simulation (overrides config)")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	printBanner()

	// credentials come from the environment, never from yaml
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("[Main] Failed to load env file %s: %v", *envFile, err)
		}
	} else {
		// best effort .env in the working directory
		_ = godotenv.Load()
	}

	log.Printf("[Main] Loading configuration from: %s", *configFile)
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[Main] Failed to load config: %v", err)
	}

	applyOverrides(cfg)
	applyCredentials(cfg)

	if cfg.System.LogFile != "" {
		setupFileLogging(cfg.System.LogFile)
	}
	printConfigSummary(cfg)

	log.Println("[Main] Creating engine...")
	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("[Main] Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("[Main] Initializing engine...")
	if err := eng.Init(ctx); err != nil {
		log.Fatalf("[Main] Failed to initialize engine: %v", err)
	}
	log.Println("[Main] ✓ Engine initialized")

	// run the execution loop; signals cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	log.Println("[Main] Bridge is running. Press Ctrl+C to stop...")

	select {
	case sig := <-sigChan:
		log.Printf("[Main] Received signal: %v", sig)
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Printf("[Main] Execution loop error: %v", err)
		}
	}

	eng.Stop()
	log.Println("[Main] ✓ Bridge stopped")
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %s v%-46s║\n", appName, appVersion)
	fmt.Println("║  CTP Order/Position Reconciliation Bridge                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func applyOverrides(cfg *config.BridgeConfig) {
	if *mode != "" {
		cfg.System.Mode = *mode
		log.Printf("[Main] Mode overridden: %s", *mode)
	}
	if *logFile != "" {
		cfg.System.LogFile = *logFile
		log.Printf("[Main] Log file overridden: %s", *logFile)
	}
}

// applyCredentials reads CTP_USER_ID / CTP_PASSWORD / CTP_BROKER_ID.
// User and broker ids in yaml are kept unless the environment overrides
// them; the password is environment-only.
func applyCredentials(cfg *config.BridgeConfig) {
	if v := os.Getenv("CTP_USER_ID"); v != "" {
		cfg.Gateway.UserID = v
	}
	if v := os.Getenv("CTP_BROKER_ID"); v != "" {
		cfg.Gateway.BrokerID = v
	}
	cfg.Gateway.Password = os.Getenv("CTP_PASSWORD")

	if cfg.System.Mode == "live" && (cfg.Gateway.UserID == "" || cfg.Gateway.Password == "") {
		log.Fatal("[Main] live mode requires CTP_USER_ID and CTP_PASSWORD in the environment")
	}
}

func printConfigSummary(cfg *config.BridgeConfig) {
	log.Println("[Main] ────────────────────────────────────────────────────────────")
	log.Println("[Main] Configuration Summary")
	log.Println("[Main] ────────────────────────────────────────────────────────────")
	log.Printf("[Main] Run Mode:          %s", cfg.System.Mode)
	log.Printf("[Main] Gateway:           %s", cfg.Gateway.NATSAddr)
	log.Printf("[Main] Broker / User:     %s / %s", cfg.Gateway.BrokerID, cfg.Gateway.UserID)
	log.Printf("[Main] Query Retries:     %d x %s", cfg.Query.RetryTimes, cfg.Query.RetryInterval)
	log.Printf("[Main] Timezone:          %s (night trading: %v)", cfg.Session.Timezone, cfg.Session.NightTrading)
	log.Printf("[Main] Queue:             size=%d poll=%s", cfg.Bridge.QueueSize, cfg.Bridge.PollTimeout)
	if cfg.API.Enabled {
		log.Printf("[Main] Status API:        %s:%d", cfg.API.Host, cfg.API.Port)
	}
	log.Println("[Main] ────────────────────────────────────────────────────────────")
}

func setupFileLogging(logFilePath string) {
	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("[Main] Warning: Failed to create log directory: %v", err)
		return
	}
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[Main] Warning: Failed to open log file: %v", err)
		return
	}
	log.SetOutput(f)
	log.Printf("[Main] ✓ Logging to file: %s", logFilePath)
}
