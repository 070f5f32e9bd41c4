package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/chains"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/config"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/processor"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/resolver"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/rpc"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/store"
	"github.com/Cogwheel-Validator/spectra-indexer/indexer/tokens"
)

var log zerolog.Logger

func init() {
	// Initialize zerolog with console writer
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the RPC package
	rpc.SetLogger(log)
}

func main() {
	configPath := flag.String("config", "", "toml config file; empty reads INDEXER_* env vars")
	eventsPath := flag.String("events", "", "ndjson event stream to ingest; - reads stdin")
	registryDir := flag.String("registry-dir", "", "local cosmos chain-registry checkout for chain names")
	downloadRegistry := flag.Bool("download-registry", false, "fetch the chain registry into registry-dir before loading")
	flag.Parse()

	log.Info().
		Str("config", *configPath).
		Msg("Starting Spectra Indexer")

	var cfgPath *string
	if *configPath != "" {
		cfgPath = configPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := store.NewSQLite(store.SQLiteConfig{DataDir: cfg.Database.DataDir})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	chainRegistry := chains.NewRegistry()
	if *registryDir != "" {
		if *downloadRegistry {
			if err := chains.DownloadRegistry(*registryDir); err != nil {
				log.Warn().Err(err).Msg("Chain registry download failed, using built-in names")
			}
		}
		loaded, err := chainRegistry.LoadFromDir(*registryDir)
		if err != nil {
			log.Warn().Err(err).Msg("Chain registry load failed, using built-in names")
		} else {
			log.Info().Int("count", loaded).Msg("Loaded chain registry entries")
		}
	}

	tokenRegistry := tokens.NewMetadataRegistry()
	if cfg.TokenMapFile != "" {
		loaded, err := tokenRegistry.LoadMappingFile(cfg.TokenMapFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.TokenMapFile).Msg("Failed to load token map")
		}
		log.Info().Int("count", loaded).Msg("Loaded token mappings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := tokens.NewPriceProvider(tokens.ProviderConfig{
		APIKey:     cfg.PriceProvider.APIKey,
		Tier:       cfg.PriceProvider.Tier,
		CacheTTL:   time.Duration(cfg.PriceProvider.CacheTTLMinutes) * time.Minute,
		BatchSize:  cfg.PriceProvider.BatchSize,
		MaxRetries: cfg.PriceProvider.MaxRetries,
	}, tokenRegistry.StableCoingeckoIDs(), log)
	go provider.StartRefreshLoop(ctx)

	tokenService := tokens.NewService(tokenRegistry, provider, log)

	chainResolver := resolver.New(db, chainRegistry, log)
	chainResolver.SetLocalChainIDs(cfg.LocalChain.MainnetID, cfg.LocalChain.TestnetID)

	proc := processor.New(db, chainResolver, tokenService, prometheus.DefaultRegisterer, log)

	serverConfig := &rpc.ServerConfig{
		Address:        cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		EnableMetrics:  true,
	}
	if cfg.Server.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.Server.RatePerMinute
	}

	server, err := rpc.NewServer(serverConfig, db, tokenService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API server")
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *eventsPath != "" {
		go func() {
			if err := ingestEvents(ctx, proc, *eventsPath); err != nil {
				log.Error().Err(err).Msg("Event ingestion failed")
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

// envelope is one line of the ndjson event stream.
type envelope struct {
	Event   models.Event        `json:"event"`
	Context models.EventContext `json:"context"`
}

// ingestEvents feeds an ndjson stream into the processor, one envelope per
// line. A malformed line is logged and skipped; only store failures stop the
// stream.
func ingestEvents(ctx context.Context, proc *processor.Processor, path string) error {
	var in io.Reader
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var processed, skipped int
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed event line")
			skipped++
			continue
		}
		if err := proc.ProcessEvent(ctx, env.Event, env.Context); err != nil {
			return err
		}
		processed++
	}

	log.Info().
		Int("processed", processed).
		Int("skipped", skipped).
		Msg("Event stream drained")
	return scanner.Err()
}
