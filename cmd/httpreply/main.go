package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpreply"
	"github.com/always-cache/httpreply/bytesource"
	"github.com/always-cache/httpreply/cache"
	httptransport "github.com/always-cache/httpreply/pkg/http-transport"
)

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(value string) error {
	*h = append(*h, value)
	return nil
}

var (
	// CLI flags
	configFilenameFlag string
	dbFilenameFlag     string
	methodFlag         string
	dataFlag           string
	headerFlag         headerFlags
	cacheLoadFlag      string
	maxRedirectsFlag   int
	insecureFlag       bool
	serveFlag          string
	purgeFlag          bool
	purgeIntervalFlag  time.Duration
	verbosityTraceFlag bool
	verbosityQuietFlag bool
	logFilenameFlag    string
	cacheUpdatesFlag   bool
	showHeadersFlag    bool
	timeoutFlag        time.Duration

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db, 'none' to disable caching)")
	flag.StringVar(&methodFlag, "X", "GET", "Request method")
	flag.StringVar(&dataFlag, "d", "", "Request body ('@file' reads a file, '@-' reads stdin)")
	flag.Var(&headerFlag, "H", "Request header 'Name: value' (repeatable)")
	flag.StringVar(&cacheLoadFlag, "cache", "prefer-network", "Cache load control: prefer-network, always-network, prefer-cache, always-cache")
	flag.IntVar(&maxRedirectsFlag, "max-redirects", 0, "Maximum redirects to follow (overrides config)")
	flag.BoolVar(&insecureFlag, "insecure-redirects", false, "Allow redirects from https to http")
	flag.StringVar(&serveFlag, "serve", "", "Serve the fetch API on this address instead of fetching")
	flag.BoolVar(&purgeFlag, "purge", false, "Remove expired entries from the cache DB and exit")
	flag.DurationVar(&purgeIntervalFlag, "purge-interval", 0, "In serve mode, remove expired entries this often")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.BoolVar(&verbosityQuietFlag, "q", false, "Verbosity: warnings and errors only")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")
	flag.BoolVar(&cacheUpdatesFlag, "cache-updates", false, "Follow Cache-Update response headers")
	flag.BoolVar(&showHeadersFlag, "i", false, "Print the status line and response headers")
	flag.DurationVar(&timeoutFlag, "timeout", time.Minute, "Time to wait for each reply")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	} else if verbosityQuietFlag {
		logLevel = zerolog.WarnLevel
	}

	// set up log output to stderr, stdout carries bodies
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stderr})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Could not read config")
		}
	}
	if config.DB == "" {
		config.DB = dbFilenameFlag
	}
	if maxRedirectsFlag > 0 {
		config.MaxRedirects = maxRedirectsFlag
	}
	if insecureFlag {
		config.AllowInsecureRedirects = true
	}
	if cacheUpdatesFlag {
		config.FollowCacheUpdates = true
	}

	loadControl, err := parseCacheLoad(cacheLoadFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -cache")
	}

	store, sqlite, err := openStore(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache")
	}
	if sqlite != nil {
		defer sqlite.Close()
	}

	if purgeFlag {
		if sqlite == nil {
			log.Fatal().Msg("Purging needs a cache DB")
		}
		n, err := sqlite.PurgeExpired(time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("Could not purge cache")
		}
		log.Info().Int64("removed", n).Msg("Purged expired entries")
		return
	}

	manager, err := newManager(config, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up transport")
	}
	defaults := requestDefaults{
		loadControl:   loadControl,
		maxRedirects:  config.MaxRedirects,
		allowInsecure: config.AllowInsecureRedirects,
	}

	if serveFlag != "" {
		if sqlite != nil && purgeIntervalFlag > 0 {
			go purgeLoop(*sqlite, purgeIntervalFlag)
		}
		log.Info().Msgf("Serving fetch API on %s", serveFlag)
		if err := http.ListenAndServe(serveFlag, newRouter(manager, sqlite, defaults)); err != nil {
			panic(err)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: httpreply [flags] URL...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	failed := false
	for _, rawURL := range flag.Args() {
		if err := fetch(manager, rawURL, defaults, os.Stdout); err != nil {
			log.Error().Err(err).Str("url", rawURL).Msg("Fetch failed")
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// openStore returns the configured cache. The sqlite store is returned
// separately for maintenance operations.
func openStore(config Config) (cache.Store, *cache.SQLiteStore, error) {
	switch config.DB {
	case "none":
		return nil, nil, nil
	case "memory":
		// set up sqlite memory provider
		config.DB = ""
	}
	s, err := cache.NewSQLiteStore(config.DB, config.Namespace)
	if err != nil {
		return nil, nil, err
	}
	return s, &s, nil
}

func newManager(config Config, store cache.Store) (*httpreply.Manager, error) {
	transport, err := httptransport.New(httptransport.Config{})
	if err != nil {
		return nil, err
	}
	mc := httpreply.Config{
		Transport:              transport,
		Cache:                  store,
		MaxConcurrentExchanges: config.MaxConcurrentExchanges,
		ProgressInterval:       config.ProgressInterval,
		Rules:                  config.Rules,
		FollowCacheUpdates:     config.FollowCacheUpdates,
	}
	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		mc.Proxy = func(*url.URL) (*url.URL, error) { return proxyURL, nil }
	}
	return httpreply.NewManager(mc), nil
}

type requestDefaults struct {
	loadControl   httpreply.CacheLoadControl
	maxRedirects  int
	allowInsecure bool
}

func (d requestDefaults) apply(req *httpreply.Request) {
	req.Attributes.CacheLoadControl = d.loadControl
	req.Attributes.AllowInsecureRedirect = d.allowInsecure
	if d.maxRedirects > 0 {
		req.Attributes.MaxRedirects = d.maxRedirects
	}
}

func parseCacheLoad(value string) (httpreply.CacheLoadControl, error) {
	switch value {
	case "", "prefer-network":
		return httpreply.PreferNetwork, nil
	case "always-network":
		return httpreply.AlwaysNetwork, nil
	case "prefer-cache":
		return httpreply.PreferCache, nil
	case "always-cache":
		return httpreply.AlwaysCache, nil
	}
	return 0, fmt.Errorf("unknown cache load control %q", value)
}

func requestBody(data string) (httpreply.ByteSource, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		return bytesource.FromReader(os.Stdin), nil
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, err
		}
		return bytesource.FromBytes(b), nil
	}
	return bytesource.FromString(data), nil
}

// fetch runs one request from the command line and copies the body to out.
func fetch(m *httpreply.Manager, rawURL string, defaults requestDefaults, out io.Writer) error {
	req, err := httpreply.NewRequest(methodFlag, rawURL)
	if err != nil {
		return err
	}
	defaults.apply(req)
	for _, h := range headerFlag {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if req.Body, err = requestBody(dataFlag); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	reply := m.Do(req, &httpreply.Hooks{
		Redirected: func(r *httpreply.Reply, target *url.URL) {
			log.Debug().Stringer("target", target).Msg("Redirected")
		},
	})
	go func() {
		<-ctx.Done()
		reply.Abort()
	}()

	// stream the body as it arrives
	buf := make([]byte, 32*1024)
	headersShown := false
	for {
		n, err := reply.Read(buf)
		if showHeadersFlag && !headersShown {
			headersShown = true
			writeHead(out, reply)
		}
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	cs, _ := reply.Attribute(httpreply.CacheStatusAttribute)
	log.Info().
		Int("status", reply.StatusCode()).
		Int64("bytes", reply.BytesDownloaded()).
		Interface("cache-status", cs).
		Msg("Fetched")
	return reply.Err()
}

func writeHead(out io.Writer, r *httpreply.Reply) {
	status := r.Status()
	fmt.Fprintf(out, "%d %s\n", status.Code, status.Reason)
	r.Headers().Write(out)
	fmt.Fprintln(out)
}

func purgeLoop(store cache.SQLiteStore, interval time.Duration) {
	log.Info().Msgf("Starting cache purge loop with interval %s", interval)
	for range time.Tick(interval) {
		n, err := store.PurgeExpired(time.Now())
		if err != nil {
			log.Error().Err(err).Msg("Could not purge cache")
			continue
		}
		if n > 0 {
			log.Debug().Int64("removed", n).Msg("Purged expired entries")
		}
	}
}
