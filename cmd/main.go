// Package main is the chronicler command line interface.
//
// Subcommands:
//
//	compress <conversation.json>   run the compression pipeline over a
//	                               conversation file and write the derived
//	                               conversation alongside it
//	cache stats                    inspect the compression cache
//	version                        print the build version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/dmforge/chronicler/external"
	"github.com/dmforge/chronicler/internal/cache"
	"github.com/dmforge/chronicler/internal/combat"
	"github.com/dmforge/chronicler/internal/config"
	"github.com/dmforge/chronicler/internal/conversation"
	"github.com/dmforge/chronicler/internal/events"
	"github.com/dmforge/chronicler/internal/monitoring"
	"github.com/dmforge/chronicler/internal/pipeline"
	"github.com/dmforge/chronicler/internal/scheduler"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "chronicler", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	loadEnvFiles()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "compress":
			runCompress(os.Args[2:])
			return
		case "cache":
			runCache(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("chronicler %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	printHelp()
	os.Exit(1)
}

func printHelp() {
	fmt.Println(`chronicler - conversation compression for the Dungeon Master game

Usage:
  chronicler compress [-config path] [-o output] <conversation.json>
  chronicler cache stats [-config path]
  chronicler version

The compress command writes a derived conversation next to the input
(<name>.compressed.json unless -o is given). The canonical history file is
never modified.`)
}

func runCompress(args []string) {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	configPath := fs.String("config", "configs/chronicler.yaml", "config file path")
	outPath := fs.String("o", "", "output path (default <input>.compressed.json)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "compress: exactly one conversation file is required")
		fs.Usage()
		os.Exit(2)
	}
	inPath := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		os.Exit(1)
	}

	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	if interactive && cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	monitoring.Global(cfg.Logging)

	conv, err := conversation.Load(inPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load conversation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open compression cache")
	}
	defer store.Close()

	client, err := external.NewClient(cfg.Compressor)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create compression client")
	}

	var sinks []events.Sink
	if cfg.Events.StatusURL != "" {
		ws := events.NewWebSocketSink(ctx, cfg.Events.StatusURL)
		defer ws.Close()
		sinks = append(sinks, ws)
	}
	if interactive {
		sinks = append(sinks, progressSink())
	}

	metrics := monitoring.NewMetricsCollector()

	sched, err := scheduler.New(store, cfg.Scheduler.Workers,
		scheduler.WithSink(events.Multi(sinks...)),
		scheduler.WithMetrics(metrics),
		scheduler.WithCallTimeout(cfg.Scheduler.CallTimeout),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create scheduler")
	}

	pipe := pipeline.New(sched, client,
		pipeline.WithStructuralBudget(cfg.Structural),
		pipeline.WithSystemSwap(cfg.SystemSwap),
		pipeline.WithCombat(combat.New(store, client, cfg.Combat, combat.WithMetrics(metrics))),
		pipeline.WithMetrics(metrics),
	)

	out, stats, err := pipe.Compress(ctx, conv)
	if err != nil {
		log.Fatal().Err(err).Msg("compression run failed")
	}
	if interactive {
		fmt.Fprintln(os.Stderr)
	}

	target := *outPath
	if target == "" {
		target = strings.TrimSuffix(inPath, ".json") + ".compressed.json"
	}
	if err := conversation.Save(target, out); err != nil {
		log.Fatal().Err(err).Msg("cannot write derived conversation")
	}

	fmt.Printf("wrote %s\n", target)
	fmt.Printf("run %s: %d sections, %d from cache, %d passed through, %s\n",
		stats.RunID, stats.Sections, stats.FromCache, stats.PassThrough, stats.Duration.Round(time.Millisecond))
}

// progressSink renders a single-line progress counter on stderr.
func progressSink() events.Sink {
	return events.FuncSink(func(event string, payload map[string]any) {
		if event != events.CompressionProgress {
			return
		}
		completed, _ := payload["completed"].(int)
		total, _ := payload["total"].(int)
		fmt.Fprintf(os.Stderr, "\rcompressing %d/%d", completed, total)
	})
}

func runCache(args []string) {
	if len(args) < 1 || args[0] != "stats" {
		fmt.Fprintln(os.Stderr, "cache: unknown subcommand (expected 'stats')")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("cache stats", flag.ExitOnError)
	configPath := fs.String("config", "configs/chronicler.yaml", "config file path")
	_ = fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		os.Exit(1)
	}
	monitoring.Global(cfg.Logging)

	store, err := openStore(cfg.Cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronicler: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Printf("backend:  %s\n", cfg.Cache.Backend)
	fmt.Printf("entries:  %d\n", store.Len())

	fileStore, ok := store.(*cache.FileStore)
	if !ok {
		return
	}

	snapshot := fileStore.Snapshot()
	var originalBytes, compressedBytes int
	keys := make([]string, 0, len(snapshot))
	for k, e := range snapshot {
		originalBytes += e.OriginalLength
		compressedBytes += e.CompressedLength
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("original:   %d bytes\n", originalBytes)
	fmt.Printf("compressed: %d bytes\n", compressedBytes)
	if originalBytes > 0 {
		ratio := float64(originalBytes-compressedBytes) / float64(originalBytes) * 100
		fmt.Printf("reduction:  %s%%\n", strconv.FormatFloat(ratio, 'f', 1, 64))
	}

	for _, k := range keys {
		e := snapshot[k]
		fmt.Printf("  %-48s %6d -> %6d (%s)\n", truncateKey(k), e.OriginalLength, e.CompressedLength, e.Reduction)
	}
}

func truncateKey(k string) string {
	if len(k) <= 48 {
		return k
	}
	return k[:45] + "..."
}

func openStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "sqlite":
		return cache.NewSQLiteStore(cfg.Path)
	default:
		return cache.NewFileStore(cfg.Path), nil
	}
}
