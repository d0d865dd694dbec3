package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// Chat streams stay open for the whole model response.
const streamWriteTimeout = 10 * time.Minute

// tlsSetup is the resolved SSL configuration for one listener.
type tlsSetup struct {
	enabled  bool
	acme     *autocert.Manager
	certFile string
	keyFile  string
}

// StartHTTPServer starts the HTTP/HTTPS server based on the provided configuration.
// It returns the server instance and a channel that signals listener errors after startup.
// An immediate error is returned if setup fails before starting the listener.
func StartHTTPServer(ctx context.Context, logger *zap.Logger, cfg config.IConfig, mux http.Handler, overwriteListenAddr string) (*http.Server, <-chan error, error) {
	if logger == nil {
		return nil, nil, errors.New("logger cannot be nil")
	}
	if cfg == nil {
		return nil, nil, errors.New("config cannot be nil")
	}
	if mux == nil {
		return nil, nil, errors.New("http handler (mux) cannot be nil")
	}

	listenAddr := overwriteListenAddr
	if listenAddr == "" {
		var err error
		if listenAddr, err = cfg.ListenAddr(); err != nil {
			return nil, nil, fmt.Errorf("failed to get listen address: %w", err)
		}
	}

	setup, err := resolveTLS(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      streamWriteTimeout,
		IdleTimeout:       90 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	switch {
	case setup.acme != nil:
		server.TLSConfig = setup.acme.TLSConfig()
		server.TLSConfig.MinVersion = tls.VersionTLS12
		go serveACMEChallenges(setup.acme, logger)
	case setup.enabled:
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	listenerErrChan := make(chan error, 1)
	go func() {
		defer close(listenerErrChan)

		var err error
		switch {
		case setup.acme != nil:
			logger.Info("Starting HTTPS Server", zap.String("addr", listenAddr), zap.Bool("isACME", true))
			err = server.ListenAndServeTLS("", "")
		case setup.enabled:
			logger.Info("Starting HTTPS Server", zap.String("addr", listenAddr), zap.Bool("isACME", false))
			err = server.ListenAndServeTLS(setup.certFile, setup.keyFile)
		default:
			logger.Info("Starting HTTP Server", zap.String("addr", listenAddr))
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server listener error", zap.Error(err))
			listenerErrChan <- err
			return
		}
		logger.Info("Server listener stopped gracefully.")
	}()

	return server, listenerErrChan, nil
}

func resolveTLS(cfg config.IConfig, logger *zap.Logger) (tlsSetup, error) {
	enabled, err := cfg.SSLEnabled()
	if err != nil {
		logger.Warn("Failed to read SSL enabled setting, assuming disabled", zap.Error(err))
		return tlsSetup{}, nil
	}
	if !enabled {
		return tlsSetup{}, nil
	}

	setup := tlsSetup{enabled: true}
	if mode, _ := cfg.SSLMode(); mode != "acme" {
		setup.certFile, err = cfg.SSLCertFile()
		if err != nil || setup.certFile == "" {
			return setup, fmt.Errorf("manual SSL mode requires a certificate file path (ssl.cert_file): %w", err)
		}
		setup.keyFile, err = cfg.SSLKeyFile()
		if err != nil || setup.keyFile == "" {
			return setup, fmt.Errorf("manual SSL mode requires a private key file path (ssl.key_file): %w", err)
		}
		return setup, nil
	}

	domains, err := cfg.SSLAcmeDomains()
	if err != nil || len(domains) == 0 {
		return setup, fmt.Errorf("ACME mode requires at least one domain (ssl.acme_domains): %w", err)
	}
	email, _ := cfg.SSLAcmeEmail()
	cacheDir, err := cfg.SSLAcmeCacheDir()
	if err != nil {
		return setup, fmt.Errorf("failed to get ACME cache directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return setup, fmt.Errorf("failed to create ACME cache directory '%s': %w", cacheDir, err)
	}
	setup.acme = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Email:      email,
		Cache:      autocert.DirCache(cacheDir),
	}
	return setup, nil
}

// serveACMEChallenges answers HTTP-01 challenges on port 80.
func serveACMEChallenges(m *autocert.Manager, logger *zap.Logger) {
	challengeServer := &http.Server{
		Addr:              ":80",
		Handler:           m.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Starting ACME HTTP challenge listener", zap.String("addr", challengeServer.Addr))
	if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ACME HTTP challenge listener error", zap.Error(err))
	}
}

// ShutdownHTTPServer attempts a graceful shutdown of the HTTP server.
func ShutdownHTTPServer(ctx context.Context, logger *zap.Logger, server *http.Server) {
	if server == nil {
		logger.Warn("Shutdown requested but server instance is nil")
		return
	}
	logger.Info("Attempting graceful shutdown of HTTP/S server...")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP/S server graceful shutdown failed", zap.Error(err))
		return
	}
	logger.Info("HTTP/S server shut down gracefully.")
}
