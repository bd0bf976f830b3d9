package server

import (
	"time"

	"github.com/corvusdb/corvus/pkg/database"
)

// Config holds server configuration settings
type Config struct {
	Host           string        // Server host address
	Port           int           // Server port
	DatabaseName   string        // Logical database name served by this process
	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	MaxRequestSize int64         // Maximum request body size in bytes
	EnableCORS     bool          // Enable CORS middleware
	AllowedOrigins []string      // CORS allowed origins
	EnableLogging  bool          // Enable request logging

	// Database holds the planner, pushdown and storage knobs passed through
	// to the embedded database.
	Database database.Options

	// TLS/SSL configuration
	EnableTLS   bool   // Enable TLS/SSL
	TLSCertFile string // Path to TLS certificate file
	TLSKeyFile  string // Path to TLS private key file
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		DatabaseName:   "corvus",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableLogging:  true,
		Database:       database.DefaultOptions(),
		EnableTLS:      false,
		TLSCertFile:    "",
		TLSKeyFile:     "",
	}
}
