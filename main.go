package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"lineagemon/config"
	"lineagemon/internal/delivery/cli"
	"lineagemon/internal/domain"
	"lineagemon/internal/infrastructure"
	"lineagemon/internal/usecase"
)

const version = "1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	whitelist, err := config.LoadWhitelist(cfg.WhitelistPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] Failed to load privilege whitelist: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "monitor":
		runMonitor(cfg, whitelist)
	case "tree":
		runTree()
	case "config":
		cli.RenderConfig(os.Stdout, cfg, whitelist)
	case "version":
		showVersion()
	default:
		printUsage()
		os.Exit(1)
	}
}

// runMonitor starts the scan loop and blocks until an interrupt.
func runMonitor(cfg *config.Config, whitelist *config.Whitelist) {
	logger, logFile, err := infrastructure.SetupLogging(cfg.LogDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logger.Println("╔════════════════════════════════════════════════════════════╗")
	logger.Printf("║                 lineagemon v%s                             ║\n", version)
	logger.Println("║          Process Lineage Anomaly Detection                 ║")
	logger.Println("╚════════════════════════════════════════════════════════════╝")

	if err := infrastructure.CleanupOldLogs(logger, cfg.LogDirectory, 7*24*time.Hour); err != nil {
		logger.Warnf("[!] Failed to cleanup old logs: %v", err)
	}

	eventSink, err := infrastructure.NewRotatingSink(cfg.LogPath(), cfg.RotationSizeBytes, cfg.RotationBackups)
	if err != nil {
		logger.Fatalf("[!] Failed to open structured sink: %v", err)
	}
	csvSink, err := infrastructure.NewCSVSink(cfg.CSVPath())
	if err != nil {
		logger.Fatalf("[!] Failed to open tabular sink: %v", err)
	}

	clock := clockwork.NewRealClock()
	registry := domain.NewLineageRegistry(clock, cfg.SpawnWindow)
	detectors := domain.NewDetectorSet(domain.Thresholds{
		MaxSpawnRate:           cfg.MaxSpawnRate,
		MaxChildren:            cfg.MaxChildren,
		MaxChainDepth:          cfg.MaxChainDepth,
		SpawnWindow:            cfg.SpawnWindow,
		Whitelist:              whitelist.Names(),
		WhitelistPatterns:      whitelist.Patterns(),
		PriorityChangeEnabled:  cfg.PriorityChangeEnabled,
		PrivilegeChangeEnabled: cfg.PrivilegeChangeEnabled,
	})
	actions := registerDefaultActions(logger)
	writer := usecase.NewEventWriter(eventSink, cfg.EventQueueSize, logger)

	service := usecase.NewMonitorService(
		cfg,
		infrastructure.NewSnapshotSource(),
		registry,
		detectors,
		actions,
		writer,
		csvSink,
		clock,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		logger.Fatalf("[!] Failed to start monitor: %v", err)
	}

	logger.Printf("[*] Thresholds: spawn rate %d/%v, children %d, chain depth %d",
		cfg.MaxSpawnRate, cfg.SpawnWindow, cfg.MaxChildren, cfg.MaxChainDepth)
	logger.Printf("[*] Privilege whitelist: %d names for %s", len(whitelist.Names()), whitelist.Platform())
	logger.Println("[+] Protection active, press Ctrl+C to stop...")

	started := time.Now()
	stopStats := make(chan struct{})
	go reportStatistics(service, logger, started, stopStats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Println("[*] Shutdown signal received, stopping monitor...")
	close(stopStats)
	service.Stop()

	logger.Println("[*] Final statistics:")
	cli.RenderStatus(os.Stdout, service.GetStats())
	logger.Println("[+] lineagemon shutdown complete")
}

// registerDefaultActions wires log-only actions for named processes. The
// registry is the extension point for custom first-sighting responses.
func registerDefaultActions(logger *logrus.Logger) *domain.ActionRegistry {
	actions := domain.NewActionRegistry()
	for _, name := range []string{"notepad.exe", "calc.exe"} {
		actions.Register(name, func(rec *domain.ProcessRecord) {
			logger.Infof("[+] Watched process observed: %s (PID %d, owner %s)", rec.Name, rec.PID, rec.Owner)
		})
	}
	return actions
}

// runTree takes one snapshot and prints the resulting process hierarchy.
func runTree() {
	clock := clockwork.NewRealClock()
	registry := domain.NewLineageRegistry(clock, time.Minute)

	source := infrastructure.NewSnapshotSource()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := source.ListProcesses(ctx)
	if err != nil && len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "[!] Failed to snapshot processes: %v\n", err)
		os.Exit(1)
	}

	registry.Update(entries)
	cli.RenderTree(os.Stdout, registry)
}

// reportStatistics periodically prints engine statistics.
func reportStatistics(service *usecase.MonitorService, logger *logrus.Logger, started time.Time, stop chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := service.GetStats()
			logger.Printf("[Stats] Uptime: %s, Cycles: %v (skipped %v, partial %v), Tracked: %v (live %v), Events: %v, Queue: %v/%v",
				cli.FormatUptime(time.Since(started)),
				stats["cycles"],
				stats["cycles_skipped"],
				stats["partial_cycles"],
				stats["tracked"],
				stats["live"],
				stats["events_raised"],
				stats["writer_queue_length"],
				stats["writer_queue_capacity"],
			)
		}
	}
}

func showVersion() {
	fmt.Printf("lineagemon v%s\n", version)
	fmt.Println("Process Lineage Anomaly Detection")
	fmt.Println()
	fmt.Println("Detectors:")
	fmt.Println("  - Ghost ancestry (children outliving vanished parents)")
	fmt.Println("  - Excess direct children per parent")
	fmt.Println("  - Deep process chains")
	fmt.Println("  - High spawn rate inside a trailing window")
	fmt.Println("  - Unauthorized privilege elevation")
	fmt.Println("  - Suspicious priority escalation")
}

func printUsage() {
	fmt.Println("lineagemon - Process Lineage Anomaly Detection")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lineagemon monitor       - Start the scan loop")
	fmt.Println("  lineagemon tree          - Print the current process tree")
	fmt.Println("  lineagemon config        - Show effective configuration")
	fmt.Println("  lineagemon version       - Show version information")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Elevation detection needs sufficient privileges to query other processes")
	fmt.Println("  - Configuration via environment variables; whitelist: config/privilege_whitelist.json")
}
