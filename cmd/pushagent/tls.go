package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/wellio/pushagent/internal/config"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
	renewBefore     = 30 * 24 * time.Hour
)

// serve runs the servers of the configured TLS mode until ctx is done.
// Push senders require HTTPS endpoints, so plain HTTP is only for setups
// that terminate TLS in front of the agent.
func serve(ctx context.Context, handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	errorLog := log.New(newServerErrorWriter(logger), "", 0)

	var servers []*http.Server
	switch {
	case cfg.Server.HTTPOnly:
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort, "push_base_url", cfg.Push.BaseURL)
		servers = append(servers, newServer(":"+cfg.Server.HTTPPort, handler, nil, errorLog))

	case cfg.Server.SelfSigned:
		tlsConfig, err := selfSignedTLSConfig(cfg.Server.Domain)
		if err != nil {
			return err
		}
		logger.Info("HTTPS server (self-signed) starting", "port", cfg.Server.HTTPSPort, "domain", cfg.Server.Domain)
		servers = append(servers,
			newServer(":"+cfg.Server.HTTPSPort, handler, tlsConfig, errorLog),
			newServer(":"+cfg.Server.HTTPPort, redirectToHTTPS(cfg.Server.HTTPSPort), nil, errorLog),
		)

	default:
		m, err := newCertManager(cfg.Server, logger)
		if err != nil {
			return err
		}
		domain := normalizeDomain(cfg.Server.Domain)
		if domain == "localhost" || domain == "127.0.0.1" {
			logger.Warn("Let's Encrypt will not work for localhost. Use --self-signed for local development.")
		}
		acme := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
				m.HTTPHandler(nil).ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
		})
		logger.Info("HTTPS server starting", "port", cfg.Server.HTTPSPort, "domain", domain, "certs_dir", cfg.Server.CertsDir)
		servers = append(servers,
			newServer(":"+cfg.Server.HTTPSPort, handler, m.TLSConfig(), errorLog),
			newServer(":"+cfg.Server.HTTPPort, acme, nil, errorLog),
		)
		go startCertificateRenewal(ctx, m, domain, logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})
	return g.Wait()
}

func newServer(addr string, handler http.Handler, tlsConfig *tls.Config, errorLog *log.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		TLSConfig:    tlsConfig,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     errorLog,
	}
}

func redirectToHTTPS(httpsPort string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host + ":" + httpsPort + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

func newCertManager(cfg config.ServerConfig, logger *slog.Logger) (*autocert.Manager, error) {
	if err := os.MkdirAll(cfg.CertsDir, 0700); err != nil {
		return nil, fmt.Errorf("create certs directory: %w", err)
	}
	domain := normalizeDomain(cfg.Domain)
	logger.Info("Configured domain", "domain", cfg.Domain, "normalized", domain)

	return &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(_ context.Context, host string) error {
			if normalizeDomain(host) != domain {
				// not logged; scanners hit this constantly
				return fmt.Errorf("host %q not configured (expected %q)", host, domain)
			}
			return nil
		},
		Cache: autocert.DirCache(cfg.CertsDir),
	}, nil
}

// startCertificateRenewal checks the cached certificate monthly and touches
// it when it is close to expiry so autocert renews it.
func startCertificateRenewal(ctx context.Context, m *autocert.Manager, domain string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
	}

	ticker := time.NewTicker(30 * 24 * time.Hour)
	defer ticker.Stop()
	for {
		checkAndRenewCertificate(m, domain, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func checkAndRenewCertificate(m *autocert.Manager, domain string, logger *slog.Logger) {
	hello := &tls.ClientHelloInfo{ServerName: domain}
	cert, err := m.GetCertificate(hello)
	if err != nil || cert == nil || len(cert.Certificate) == 0 {
		logger.Warn("[CERT] no certificate yet, will be obtained on next request", "domain", domain, "error", err)
		return
	}

	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			logger.Error("[CERT] error parsing certificate", "error", err)
			return
		}
	}

	expiresIn := time.Until(leaf.NotAfter)
	logger.Info("[CERT] certificate status", "domain", domain, "expires", leaf.NotAfter.Format("2006-01-02"), "days_left", int(expiresIn.Hours()/24))
	if expiresIn >= renewBefore {
		return
	}
	if _, err := m.GetCertificate(hello); err != nil {
		logger.Error("[CERT] renewal failed", "error", err)
		return
	}
	logger.Info("[CERT] renewal triggered", "domain", domain)
}

// normalizeDomain lowercases, trims and drops a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func selfSignedTLSConfig(domain string) (*tls.Config, error) {
	hosts := []string{"localhost"}
	if domain != "" {
		hosts = []string{domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// generateSelfSignedCert creates a one-year certificate for hosts; IP hosts
// go into the IP SANs.
func generateSelfSignedCert(hosts []string, now time.Time) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	var dnsNames []string
	var ipAddrs []net.IP
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if host, _, err := net.SplitHostPort(h); err == nil {
			h = host
		}
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}
	var commonName string
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ipAddrs[0].String()
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Wellio Push Agent"},
			CommonName:   commonName,
		},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	var certBuf, keyBuf bytes.Buffer
	if err := pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	if err := pem.Encode(&keyBuf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	return certBuf.Bytes(), keyBuf.Bytes(), nil
}
