package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/corvusdb/corvus/pkg/server"
)

func main() {
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8080, "Server port")
	dbName := flag.String("db", "corvus", "Logical database name")
	corsOrigin := flag.String("cors-origin", "*", "CORS allowed origin")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	notablescan := flag.Bool("notablescan", false, "Fail queries that would require a full collection scan")
	enableTLS := flag.Bool("tls", false, "Enable TLS/SSL")
	tlsCert := flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "Path to TLS private key file")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.DatabaseName = *dbName
	config.AllowedOrigins = []string{*corsOrigin}
	config.EnableTLS = *enableTLS
	config.TLSCertFile = *tlsCert
	config.TLSKeyFile = *tlsKey
	config.Database.Logger = log
	config.Database.Planner.NoTableScan = *notablescan

	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
