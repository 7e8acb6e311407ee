package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AvengeMedia/dankseek/internal/api"
	"github.com/AvengeMedia/dankseek/internal/client"
	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/indexer"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/metastore"
	"github.com/AvengeMedia/dankseek/internal/metrics"
	"github.com/AvengeMedia/dankseek/internal/query"
	"github.com/AvengeMedia/dankseek/internal/server"
	"github.com/AvengeMedia/dankseek/internal/snapshot"
	"github.com/AvengeMedia/dankseek/internal/watcher"
	"github.com/spf13/cobra"
)

var (
	Version   string = "dev"
	buildTime string = "unknown"
	commit    string = "unknown"

	configFile    string
	logLevel      string
	socketPath    string
	indexPath     string
	maxFileBytes  int64
	workerCount   int
	maxDepth      int
	excludeHidden bool
	interval      time.Duration
	staticDir     string
	noWatch       bool
	httpOnly      bool
	socketOnly    bool

	searchLimit int
	searchJSON  bool
	filesLimit  int
)

var rootCmd = &cobra.Command{
	Use:   "dseek",
	Short: "Local TF-IDF search over a folder",
	Long:  "Index a folder of documents and rank them against free-text queries by TF-IDF",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			log.SetLevel(logLevel)
		}
		if socketPath != "" {
			client.UseSocket(socketPath)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var indexCmd = &cobra.Command{
	Use:   "index <folder>",
	Short: "Index <folder> once and write the snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var searchCmd = &cobra.Command{
	Use:   "search <index-file> <query>",
	Short: "Search <query> within the snapshot <index-file>",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSearch,
}

var serverCmd = &cobra.Command{
	Use:     "server <folder> [port]",
	Aliases: []string{"serve"},
	Short:   "Keep <folder> indexed and serve search over HTTP (default port 8080)",
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runServer,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show statistics of the running server",
	RunE:  runStatus,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Ask the running server to start a reindex cycle now",
	RunE:  runReindex,
}

var filesCmd = &cobra.Command{
	Use:   "files [prefix]",
	Short: "List files indexed by the running server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFiles,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the file watcher of the running server",
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check watcher status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.WatchStatus()
		if err != nil {
			return err
		}
		log.Infof("Watcher status: %s", status)
		return nil
	},
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start file watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.WatchStart()
		if err != nil {
			return err
		}
		log.Infof("%s", status)
		return nil
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop file watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.WatchStop()
		if err != nil {
			return err
		}
		log.Infof("%s", status)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		log.Infof("dseek version %s", Version)
		log.Infof("  Build time: %s", buildTime)
		log.Infof("  Commit: %s", commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ~/.config/dankseek/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket-path", "", "control socket of a running server (default: discover)")

	for _, cmd := range []*cobra.Command{indexCmd, serverCmd} {
		cmd.Flags().StringVarP(&indexPath, "index", "o", "", "snapshot path (default: ~/.cache/dankseek/index.json)")
		cmd.Flags().Int64Var(&maxFileBytes, "max-bytes", 0, "max bytes of text read per file")
		cmd.Flags().IntVar(&workerCount, "workers", 0, "number of extraction workers")
		cmd.Flags().IntVar(&maxDepth, "max-depth", -1, "maximum directory depth to traverse (0 = unlimited)")
		cmd.Flags().BoolVar(&excludeHidden, "exclude-hidden", true, "exclude hidden files and directories")
	}

	serverCmd.Flags().DurationVar(&interval, "interval", 0, "time between reindex cycles (e.g. 30s)")
	serverCmd.Flags().StringVar(&staticDir, "static", "", "serve the search page from this directory instead of the built-in one")
	serverCmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable automatic file watching")
	serverCmd.Flags().BoolVar(&httpOnly, "http", false, "run HTTP server only (no unix socket)")
	serverCmd.Flags().BoolVar(&socketOnly, "socket", false, "run unix socket server only (no HTTP)")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 15, "maximum number of results (0 for all)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON [path, score] pairs")

	filesCmd.Flags().IntVar(&filesLimit, "limit", 100, "maximum number of files to list")

	watchCmd.AddCommand(watchStatusCmd)
	watchCmd.AddCommand(watchStartCmd)
	watchCmd.AddCommand(watchStopCmd)

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildConfig loads the config file and applies the folder argument and any
// flags that were set on cmd.
func buildConfig(cmd *cobra.Command, folder string) (*config.Config, error) {
	cfgPath := configFile
	if cfgPath == "" {
		cfgPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel == "" && cfg.LogLevel != "" {
		log.SetLevel(cfg.LogLevel)
	}

	if folder != "" {
		if err := cfg.SetRoot(folder); err != nil {
			return nil, err
		}
	}
	if indexPath != "" {
		cfg.SnapshotPath = indexPath
	}
	if maxFileBytes > 0 {
		cfg.MaxFileBytes = maxFileBytes
	}
	if workerCount > 0 {
		cfg.WorkerCount = workerCount
	}
	if maxDepth >= 0 {
		cfg.MaxDepth = maxDepth
	}
	if f := cmd.Flags().Lookup("exclude-hidden"); f != nil && f.Changed {
		cfg.ExcludeHidden = excludeHidden
	}
	if interval > 0 {
		cfg.ReindexIntervalSeconds = max(1, int(interval.Seconds()))
	}
	if staticDir != "" {
		cfg.StaticDir = staticDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BuildMaps()
	return cfg, nil
}

// openIndexer opens the failure memo next to the snapshot, if it can, and the
// indexer on top of it.
func openIndexer(cfg *config.Config, m *metrics.Metrics) (*indexer.Indexer, error) {
	opts := []indexer.Option{indexer.WithMetrics(m)}

	meta, err := metastore.New(cfg.SnapshotPath)
	if err != nil {
		log.Warnf("failure memo unavailable, failed files will be retried every cycle: %v", err)
	} else {
		opts = append(opts, indexer.WithMetaStore(meta))
	}

	idx, err := indexer.New(cfg, opts...)
	if err != nil {
		if meta != nil {
			meta.Close()
		}
		return nil, err
	}
	return idx, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args[0])
	if err != nil {
		return err
	}

	idx, err := openIndexer(cfg, metrics.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("indexing %s", cfg.RootDir)
	res, err := idx.IndexOnce(ctx)
	if err != nil {
		idx.Discard()
		return err
	}
	if err := idx.Close(); err != nil {
		return err
	}

	log.Infof("%s", res)
	log.Infof("snapshot written to %s", cfg.SnapshotPath)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	m, err := snapshot.New(args[0]).Load()
	if err != nil {
		return err
	}

	q := strings.Join(args[1:], " ")
	results := m.Search(q)
	total := len(results)
	if searchLimit > 0 && len(results) > searchLimit {
		results = results[:searchLimit]
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(os.Stdout, results, total, useColor(os.Stdout))
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	if httpOnly && socketOnly {
		return fmt.Errorf("cannot specify both --http and --socket flags")
	}

	cfg, err := buildConfig(cmd, args[0])
	if err != nil {
		return err
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[1])
		}
		host, _, _ := strings.Cut(cfg.ListenAddr, ":")
		cfg.ListenAddr = fmt.Sprintf("%s:%d", host, port)
	}

	info, err := os.Stat(cfg.RootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", cfg.RootDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	idx, err := openIndexer(cfg, m)
	if err != nil {
		return err
	}

	svc, err := query.New(idx, cfg.QueryCacheSize, m)
	if err != nil {
		idx.Close()
		return err
	}

	w, err := watcher.New(idx, cfg)
	if err != nil {
		idx.Close()
		return err
	}
	if cfg.Watch && !noWatch {
		if err := w.Start(); err != nil {
			log.Errorf("failed to start watcher: %v", err)
			log.Infof("continuing without file watching")
		}
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		idx.Run(ctx, cfg.ReindexInterval())
	}()

	var httpServer *server.HTTPServer
	var unixServer *server.UnixServer
	errChan := make(chan error, 2)

	if !socketOnly {
		httpServer = server.NewHTTP(server.HTTPOptions{
			Addr:        cfg.ListenAddr,
			StaticDir:   cfg.StaticDir,
			ResultLimit: cfg.ResultLimit,
			Version:     Version,
			Metrics:     m,
		}, &api.Server{
			Searcher:    svc,
			Indexer:     idx,
			Watcher:     w,
			ResultLimit: cfg.ResultLimit,
		})
		go func() {
			errChan <- httpServer.Start()
		}()
	}

	if !httpOnly {
		unixServer = server.NewUnix(server.NewRouter(svc, idx, w, cfg.ResultLimit), "")
		go func() {
			errChan <- unixServer.Start()
		}()
	}

	var runErr error
	select {
	case runErr = <-errChan:
		log.Errorf("server failed: %v", runErr)
	case <-ctx.Done():
		log.Infof("received shutdown signal")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if w.IsRunning() {
		w.Stop()
	}
	if unixServer != nil {
		unixServer.Close()
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP shutdown: %v", err)
		}
	}
	<-loopDone

	return errors.Join(runErr, idx.Close())
}

func runStatus(cmd *cobra.Command, args []string) error {
	stats, err := client.Stats()
	if err != nil {
		return err
	}

	log.Infof("Index Statistics:")
	log.Infof("  Root: %s", stats.RootDir)
	log.Infof("  Documents: %d", stats.TotalFiles)
	log.Infof("  Distinct terms: %d", stats.TotalTerms)
	log.Infof("  Tokens: %d", stats.TotalTokens)
	log.Infof("  Cycles: %d", stats.Cycles)
	if !stats.LastIndexTime.IsZero() {
		log.Infof("  Last cycle: %s (%s)", stats.LastIndexTime.Format("2006-01-02 15:04:05"), stats.IndexDuration)
	}
	log.Infof("  Last cycle changes: +%d ~%d -%d (failed %d)", stats.Added, stats.Updated, stats.Removed, stats.Failed)
	if stats.LastError != "" {
		log.Warnf("  Last error: %s", stats.LastError)
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	status, err := client.Reindex()
	if err != nil {
		return err
	}
	log.Infof("%s", status)
	return nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	result, err := client.Files(prefix, filesLimit)
	if err != nil {
		return err
	}

	for _, f := range result.Files {
		fmt.Printf("%s (%s, %d tokens)\n", f.Path, f.LastModified.Format("2006-01-02"), f.Tokens)
	}
	if result.Total > len(result.Files) {
		fmt.Printf("(showing %d of %d files)\n", len(result.Files), result.Total)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
