// Command serve runs the module once per HTTP request.
//
// GET /?entry=<request> runs the module with argv [module, request] and
// answers with the elapsed time. The compiled module is cached across
// requests; every request gets a fresh runtime and shared memory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasi-bootstrap/config"
	"github.com/wippyai/wasi-bootstrap/engine"
	"github.com/wippyai/wasi-bootstrap/runtime"
)

func main() {
	var (
		configFile = flag.String("config", os.Getenv(config.EnvVar), "Path to YAML config")
		addr       = flag.String("addr", "", "Listen address (default: from config)")
	)
	flag.Parse()

	if err := serve(*configFile, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(configFile, addr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Serve.Addr = addr
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()
	engine.SetLogger(log.Named("engine"))

	path, err := cfg.ModulePath()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newServer(cfg, log, path, os.Environ())
	defer s.Close(context.Background())

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	fmt.Printf("Listening on http://%s\n", cfg.Serve.Addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type server struct {
	cfg     *config.Config
	log     *zap.Logger
	cache   wazero.CompilationCache
	sem     chan struct{}
	path    string
	environ []string
}

func newServer(cfg *config.Config, log *zap.Logger, path string, environ []string) *server {
	cache := wazero.NewCompilationCache()
	if cfg.Engine.CacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cfg.Engine.CacheDir); err == nil {
			cache = c
		} else {
			log.Warn("compilation cache dir unusable", zap.String("dir", cfg.Engine.CacheDir), zap.Error(err))
		}
	}
	return &server{
		cfg:     cfg,
		log:     log,
		cache:   cache,
		sem:     make(chan struct{}, cfg.Serve.MaxConcurrent),
		path:    path,
		environ: environ,
	}
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", s.handleRun)
	return mux
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		return
	}

	start := time.Now()
	args := []string{s.path}
	if entry := r.URL.Query().Get("entry"); entry != "" {
		args = append(args, entry)
	}
	s.log.Debug("request", zap.String("uri", r.URL.RequestURI()), zap.Strings("args", args))

	rc := s.cfg.Runtime(s.log)
	rc.Engine.Cache = s.cache
	rc.Engine.CompilationCacheDir = ""
	rc.Reporter = func(*runtime.ImportTable) {}

	code, err := runtime.Run(context.WithoutCancel(r.Context()), rc, s.path, runtime.NewWASIEnvironment(args, s.environ))
	elapsed := time.Since(start)

	if err != nil {
		s.log.Error("run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if code != 0 {
		s.log.Warn("module exited", zap.Uint32("code", code), zap.Duration("elapsed", elapsed))
		http.Error(w, fmt.Sprintf("module exited with code %d", code), http.StatusInternalServerError)
		return
	}

	if rc.MemFS != nil {
		if files, ferr := rc.MemFS.Files(); ferr == nil {
			w.Header().Set("X-Emitted-Files", fmt.Sprint(len(files)))
		}
	}
	s.log.Info("compiled", zap.Duration("elapsed", elapsed))
	fmt.Fprintf(w, "Compile time: %s", elapsed)
}

func (s *server) Close(ctx context.Context) error {
	return s.cache.Close(ctx)
}
