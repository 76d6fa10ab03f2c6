// Package main initializes and starts the key directory HTTPS server,
// setting up configuration, logging, database connections, repositories,
// services, handlers, and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"

	nethttp "net/http"

	"github.com/None-later/end-to-end/internal/certgen"
	"github.com/None-later/end-to-end/internal/config"
	"github.com/None-later/end-to-end/internal/db"
	"github.com/None-later/end-to-end/internal/logger"
	"github.com/None-later/end-to-end/internal/repository"
	"github.com/None-later/end-to-end/internal/server/handler/http"
	"github.com/None-later/end-to-end/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()
	addr := options.Port

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	// Initialize the key repository and the retention cleaner.
	keyRepo := repository.NewPostgresKeyRepository(postgresDB)
	db.StartRetentionCleaner(context.Background(), keyRepo,
		options.CleanInterval,
		options.Retention,
		zapLogger,
	)

	// Initialize the business-logic service.
	directoryService := service.NewDirectoryService(keyRepo, zapLogger)

	// Create HTTP handlers for the lookup/submission and admin endpoints.
	keysHandler := &http.KeysHandler{Directory: directoryService}
	adminHandler := &http.AdminHandler{Admin: directoryService}

	if options.AdminToken == "" {
		zapLogger.Warn("no admin token configured, admin endpoints are disabled")
	}

	// Build the router with middleware and routes.
	router := http.NewRouter(keysHandler, adminHandler, options.AdminToken, zapLogger)

	// Load the serving certificate, falling back to a generated
	// self-signed pair for development setups.
	cert, err := serverCertificate(options, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	// Create and start the HTTPS server.
	server := &nethttp.Server{
		Addr:      addr,
		Handler:   router,
		TLSConfig: tlsConfig,
	}

	zapLogger.Info("starting HTTPS server", zap.String("addr", addr))
	if err := server.ListenAndServeTLS("", ""); err != nil {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
}

// serverCertificate loads the configured cert/key pair, generating a
// self-signed one when the configured files are not there.
func serverCertificate(options *config.Options, log *zap.Logger) (tls.Certificate, error) {
	if _, err := os.Stat(options.CertFile); err == nil {
		return tls.LoadX509KeyPair(options.CertFile, options.KeyFile)
	}

	log.Warn("TLS files not found, generating a self-signed certificate",
		zap.String("cert", options.CertFile))

	host, _, err := net.SplitHostPort(options.Port)
	if err != nil || host == "" {
		host = "localhost"
	}
	certPEM, keyPEM, err := certgen.GenerateSelfSigned([]string{host})
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
