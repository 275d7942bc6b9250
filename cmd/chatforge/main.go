package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/rivermint/chatforge/broadcast"
	"github.com/rivermint/chatforge/budget"
	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/generation"
	"github.com/rivermint/chatforge/httpapi"
	"github.com/rivermint/chatforge/internal/blobstore"
	"github.com/rivermint/chatforge/internal/profile"
	"github.com/rivermint/chatforge/internal/textextract"
	"github.com/rivermint/chatforge/internal/version"
	"github.com/rivermint/chatforge/policy"
	"github.com/rivermint/chatforge/promptcompose"
	"github.com/rivermint/chatforge/store"
	"github.com/rivermint/chatforge/store/db/postgres"
	"github.com/rivermint/chatforge/store/db/sqlite"
	"github.com/rivermint/chatforge/toolexec"
	"github.com/rivermint/chatforge/toolexec/mcpadapter"
)

// chatReapInterval bounds how often the background janitor checks its cron
// expressions; one minute is finer than any schedule it evaluates.
const chatReapInterval = time.Minute

// graceWindowAfterCompletion is how long the janitor keeps a completed
// broadcast task before reaping it; it is longer than
// broadcast.DefaultGraceWindow (60s, the spec §5 minimum). ResumeStream needs
// a finished task's history to still be joinable briefly after its last event.
const graceWindowAfterCompletion = 2 * time.Minute

var (
	rootCmd = &cobra.Command{
		Use:   "chatforge",
		Short: `Multi-tenant LLM chat orchestration core: message DAG, prompt composition, tool-calling generation loop, resumable SSE.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8910)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8910, "port of server")
	rootCmd.PersistentFlags().String("unix-sock", "", "path to the unix socket, overrides --addr and --port")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your chatforge instance")
	rootCmd.PersistentFlags().String("config", "", "path to the structured config.yaml")
	rootCmd.PersistentFlags().String("redis-url", "", "redis connection url (enables cross-process policy invalidation and spend tracking)")

	for _, name := range []string{"mode", "addr", "port", "unix-sock", "data", "driver", "dsn", "instance-url", "config", "redis-url"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("chatforge")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func buildProfile() *profile.Profile {
	p := &profile.Profile{
		Mode:        viper.GetString("mode"),
		Addr:        viper.GetString("addr"),
		Port:        viper.GetInt("port"),
		UNIXSock:    viper.GetString("unix-sock"),
		Data:        viper.GetString("data"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		InstanceURL: viper.GetString("instance-url"),
		ConfigPath:  viper.GetString("config"),
		RedisURL:    viper.GetString("redis-url"),
	}
	p.FromEnv()
	if p.Version == "" {
		p.Version = version.GetCurrentVersion(p.Mode)
	}
	return p
}

// newStoreDriver picks the Driver implementation the profile names.
func newStoreDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "postgres":
		return postgres.NewDB(p)
	default:
		return sqlite.NewDB(p)
	}
}

// newRedisClient parses an optional redis url; a blank url leaves the
// Policy Cache's cross-process invalidation and the Budget Tracker's
// cross-process spend ledger as single-process no-ops (both packages
// accept a nil *redis.Client for exactly this reason).
func newRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// dialMCPServers connects to every configured MCP tool server up front so a
// dead server fails fast at boot rather than on the first tool call.
func dialMCPServers(ctx context.Context, cfg *config.Document, logger *slog.Logger) map[string]toolexec.MCPServer {
	servers := make(map[string]toolexec.MCPServer, len(cfg.MCPServers))
	for id, serverCfg := range cfg.MCPServers {
		client, err := mcpadapter.Dial(ctx, id, serverCfg)
		if err != nil {
			logger.Error("failed to dial mcp server, tools from it will be unavailable", "server_id", id, "error", err)
			continue
		}
		servers[id] = client
	}
	return servers
}

// cacheEntriesForMB converts a configured cache budget in megabytes into an
// LRU entry cap, assuming avgEntryBytes per entry. There is no finer-grained
// sizing signal than the operator-supplied MB figure (config.CachesConfig),
// so this is a documented approximation rather than an exact accounting.
func cacheEntriesForMB(mb, avgEntryBytes int) int {
	if mb <= 0 {
		return 0
	}
	entries := (mb * 1024 * 1024) / avgEntryBytes
	if entries <= 0 {
		entries = 1
	}
	return entries
}

const (
	avgFileBytesEntryBytes    = 64 * 1024
	avgFileContentsEntryBytes = 4 * 1024
)

func run(ctx context.Context) error {
	instanceProfile := buildProfile()
	if err := instanceProfile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelForMode(instanceProfile.Mode),
	}))
	slog.SetDefault(logger)

	cfgLoader := config.NewLoader(instanceProfile.Data)
	cfg, err := cfgLoader.Load(instanceProfile.ConfigPath)
	if err != nil {
		logger.Warn("failed to load structured config, falling back to defaults", "path", instanceProfile.ConfigPath, "error", err)
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	driver, err := newStoreDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("create store driver: %w", err)
	}
	st := store.New(driver, instanceProfile)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	redisClient, err := newRedisClient(instanceProfile.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	polCache, err := policy.New(redisClient)
	if err != nil {
		return fmt.Errorf("build policy cache: %w", err)
	}
	go polCache.SubscribeInvalidations(ctx)

	blobs := blobstore.New(cfg.FileStorageProviders)
	extractor := textextract.New()
	resolver := fileresolver.New(st, blobs, extractor, fileresolver.Config{
		BytesCacheEntries: cacheEntriesForMB(cfg.Caches.FileBytesCacheMB, avgFileBytesEntryBytes),
		TextCacheEntries:  cacheEntriesForMB(cfg.Caches.FileContentsCacheMB, avgFileContentsEntryBytes),
	})

	mcpServers := dialMCPServers(ctx, cfg, logger)
	defer func() {
		for id, server := range mcpServers {
			if closer, ok := server.(*mcpadapter.Client); ok {
				if err := closer.Close(); err != nil {
					logger.Warn("failed to close mcp server", "server_id", id, "error", err)
				}
			}
		}
	}()
	tools := toolexec.New(mcpServers)

	composer := promptcompose.New(resolver, tools, "")

	catalog, err := generation.NewProviderCatalog(cfg)
	if err != nil {
		return fmt.Errorf("build provider catalog: %w", err)
	}

	budgetTracker := budget.New(redisClient, cfg.Budget, logger)
	hub := broadcast.NewHub(logger)
	summary := generation.NewSummaryTask(st, catalog, cfg.ChatProviders.Summary, logger)

	loop := generation.New(generation.Deps{
		Store:                  st,
		Composer:               composer,
		Providers:              catalog,
		Tools:                  tools,
		Sink:                   hub,
		Policy:                 polCache,
		Budget:                 budgetTracker,
		Blobs:                  blobs,
		ImageStorageProviderID: cfg.DefaultImageStorageProviderID,
		MaxToolIterations:      cfg.ChatProviders.MaxToolIterations,
		Logger:                 logger,
	})

	limiter := httpapi.NewRateLimiterStore(rate.Limit(1), 5, 10000)
	srv := httpapi.New(st, polCache, hub, loop, catalog, cfg, limiter, summary, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	srv.RegisterRoutes(e)

	go runJanitor(ctx, hub, st, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- startEcho(e, instanceProfile)
	}()

	printGreetings(instanceProfile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

func startEcho(e *echo.Echo, p *profile.Profile) error {
	if p.UNIXSock != "" {
		ln, err := net.Listen("unix", p.UNIXSock)
		if err != nil {
			return fmt.Errorf("listen on unix socket %s: %w", p.UNIXSock, err)
		}
		return e.Server.Serve(ln)
	}
	addr := fmt.Sprintf("%s:%d", p.Addr, p.Port)
	return e.Start(addr)
}

// runJanitor evaluates the chat-archival sweep's cron expression once a
// minute, combining two housekeeping concerns that both run "every so
// often": retiring Broadcast Hub tasks past their grace window, and purging
// chats that have sat archived past their retention period. There is no
// example in the retrieved pack that calls gronx's public API directly
// (only a go.mod reference in one example repo), so this wiring follows
// gronx's documented Gronx.IsDue(expr, time) contract rather than an
// in-pack usage pattern.
func runJanitor(ctx context.Context, hub *broadcast.Hub, st *store.Store, logger *slog.Logger) {
	const archivalSweepCron = "0 3 * * *" // daily at 03:00
	const archivalRetentionSeconds = int64(90 * 24 * 60 * 60)

	gron := gronx.New()
	ticker := time.NewTicker(chatReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := hub.ReapExpired(graceWindowAfterCompletion); n > 0 {
				logger.Debug("reaped expired broadcast tasks", "count", n)
			}

			due, err := gron.IsDue(archivalSweepCron, now)
			if err != nil {
				logger.Error("invalid archival sweep cron expression", "error", err)
				continue
			}
			if !due {
				continue
			}
			sweepArchivedChats(ctx, st, logger, archivalRetentionSeconds)
		}
	}
}

func sweepArchivedChats(ctx context.Context, st *store.Store, logger *slog.Logger, retentionSeconds int64) {
	cutoff := time.Now().Add(-time.Duration(retentionSeconds) * time.Second).Unix()
	chats, err := st.ListArchivedChatsOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("failed to list archived chats for sweep", "error", err)
		return
	}
	for _, chat := range chats {
		if err := st.DeleteChat(ctx, chat.ID); err != nil {
			logger.Error("failed to delete archived chat", "chat_id", chat.ID, "error", err)
		}
	}
	if len(chats) > 0 {
		logger.Info("archival sweep deleted chats", "count", len(chats))
	}
}

func levelForMode(mode string) slog.Level {
	if mode == "prod" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("chatforge %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)

	if len(p.UNIXSock) == 0 {
		if len(p.Addr) == 0 {
			fmt.Printf("Server running on port %d\n", p.Port)
		} else {
			fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		}
	} else {
		fmt.Printf("Server running on unix socket: %s\n", p.UNIXSock)
	}
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
