package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"landrop/internal/auth"
	"landrop/internal/config"
	"landrop/internal/ftp"
	"landrop/internal/hierarchy"
	"landrop/internal/httpserver"
	"landrop/internal/logging"
	"landrop/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	var (
		cfgPath  = fs.String("config", "", "path to config yaml (optional)")
		addr     = fs.String("addr", "", "listen address (default "+config.DefaultListen+")")
		uploads  = fs.String("uploads", "", "uploads directory")
		stateDir = fs.String("state", "", "state dir for the password files and thumbnails")
		public   = fs.String("public", "", "directory with the browser UI")
		webdav   = fs.Bool("webdav", false, "serve the uploads tree over WebDAV at /dav/")
		logLevel = fs.String("log-level", "", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Listen = *addr
		case "uploads":
			cfg.UploadsDir = *uploads
		case "state":
			cfg.StateDir = *stateDir
		case "public":
			cfg.PublicDir = *public
		case "webdav":
			cfg.WebDAV = *webdav
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	return cfg, cfg.Validate()
}

func serveCmd(args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("serve", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Enabled: cfg.Log.Enabled,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Zap()

	store, err := hierarchy.OpenDir(cfg.UploadsDir, hierarchy.Options{
		FailOnCollision: cfg.FailOnCollision,
		Logger:          logger.Named("store"),
	})
	if err != nil {
		return err
	}
	guard, err := auth.Open(cfg.StateDir, auth.Options{
		Cost:    cfg.BcryptCost,
		Logger:  logger.Named("auth"),
		Observe: func(d auth.Decision) { metrics.RecordAuthCheck(d == auth.Allow) },
	})
	if err != nil {
		return err
	}
	srv, err := httpserver.New(httpserver.Options{Config: cfg, Store: store, Guard: guard, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var ftpSrv *ftpserver.FtpServer
	if cfg.FTP != nil {
		ftpSrv = ftp.NewServer(ftp.NewDriver(cfg.FTP, store.Fs(), guard, logger.Named("ftp")), log)
		go func() {
			if err := ftpSrv.ListenAndServe(); err != nil {
				errc <- fmt.Errorf("ftp: %w", err)
			}
		}()
	}

	printBanner(cfg, guard.Status())
	go toggleOnSignal(ctx, logger)
	go toggleOnStdin(ctx, logger)

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.Error("listener failed", zap.Error(err))
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	if ftpSrv != nil {
		if serr := ftpSrv.Stop(); serr != nil {
			log.Warn("ftp shutdown", zap.Error(serr))
		}
	}
	return err
}

func printBanner(cfg config.Config, st auth.Status) {
	fmt.Println("landrop is running")
	for _, u := range httpserver.ListenAddrs(cfg.Listen) {
		fmt.Printf("  %s\n", u)
	}
	if cfg.WebDAV {
		fmt.Println("  WebDAV at /dav/")
	}
	if cfg.FTP != nil {
		fmt.Printf("  FTP on %s\n", cfg.FTP.ListenAddr)
	}
	fmt.Printf("uploads: %s\n", cfg.UploadsDir)
	if st.RequiresPassword {
		fmt.Println("access password: set")
	} else {
		fmt.Println("access password: none")
	}
	fmt.Println("type r and press Enter to toggle request logging")
}

// toggleOnStdin flips logging when "r" is entered on an interactive stdin.
func toggleOnStdin(ctx context.Context, logger *logging.Logger) {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "r") {
			on := logger.Toggle()
			fmt.Printf("request logging %s\n", onOff(on))
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func passwdCmd(args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
		stateDir = fs.String("state", "", "state dir (default from config)")
		cfgPath  = fs.String("config", "", "path to config yaml (optional)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: landrop passwd -p <password> [-state dir] [-cost n]")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		return fmt.Errorf("invalid cost %d (min=%d max=%d)", *cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	dir := *stateDir
	if dir == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		dir = cfg.StateDir
	}
	guard, err := auth.Open(dir, auth.Options{Cost: *cost})
	if err != nil {
		return err
	}
	if err := guard.SetPassword(*password); err != nil {
		return err
	}
	fmt.Printf("access password stored in %s\n", dir)
	return nil
}
