package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Saurabhtbj1201/chat-app/internal/api"
	"github.com/Saurabhtbj1201/chat-app/internal/config"
	"github.com/Saurabhtbj1201/chat-app/internal/server"
	"github.com/Saurabhtbj1201/chat-app/internal/stats"
	"github.com/Saurabhtbj1201/chat-app/internal/store"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (f *stringSliceFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

const (
	defaultAddr = "localhost:8000"
	defaultDSN  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
)

var (
	addr       = flag.String("addr", "", "server address (default "+defaultAddr+")")
	dsn        = flag.String("dsn", "", "postgres connection string")
	signingKey = flag.String("signing-key", "", "base64-encoded jwt signing key")
	configPath = flag.String("config", "", "path to yaml config file")

	allowedOrigins stringSliceFlag
)

func main() {
	flag.Var(&allowedOrigins, "allowed-origin", "allowed CORS origin, repeatable")
	flag.Parse()

	logger := log.New(os.Stderr, "", 0)

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		// unset flags defer to file values
		cfg, err = config.LoadFile(*configPath, *addr, *dsn, *signingKey, allowedOrigins)
	} else {
		serverAddr, databaseDSN := *addr, *dsn
		if serverAddr == "" {
			serverAddr = defaultAddr
		}
		if databaseDSN == "" {
			databaseDSN = defaultDSN
		}
		cfg, err = config.NewConfig(serverAddr, databaseDSN, *signingKey, allowedOrigins)
	}
	if err != nil {
		logger.Fatalln("config:", err)
	}

	db, err := store.NewPgChatStore(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalln("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := db.Ping(); err != nil {
		logger.Fatalln("db ping:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	go statsUpdater.Run()

	chatServer, err := server.NewChatServer(logger, db, statsUpdater)
	if err != nil {
		logger.Fatalln("chat server:", err)
	}
	go chatServer.Run()

	app := api.NewChatApp(mux, logger, chatServer, db, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("starting server on %s\n", cfg.ServerAddr)
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	logger.Println("stopping server")

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("shutdown:", err)
	}
	logger.Println("stopped server")

	logger.Println("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
