// Package config loads the on-disk/env configuration recognized by the
// server and client binaries (spec §6): a TLS port and certificate pair for
// the server, a server URL for the client. TLS material can additionally be
// sourced from HashiCorp Vault, layered the same way the teacher's secret
// management did for its JWT signing key.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
)

// ServerConfig holds the server binary's recognized options (spec §6:
// "port: u16 = 1337, cert_fullchain_path, cert_key_path").
type ServerConfig struct {
	Port              uint16
	CertFullchainPath string
	CertKeyPath       string
	HistoryDBPath     string
	MetricsAddr       string
}

// ClientConfig holds the client binary's recognized options (spec §6:
// "server_url: string?").
type ClientConfig struct {
	ServerURL string
}

// defaultPort is the server's listen port when unset (spec §6).
const defaultPort = 1337

// loadEnvFiles layers .env -> .env.{NODE_ENV} -> .env.local, ignoring
// missing files, matching the teacher's env loading order.
func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

// LoadServerConfig reads the server's configuration from the environment,
// falling back to Vault-held TLS material when VAULT_ADDR/VAULT_TOKEN are
// set and the on-disk paths are absent.
func LoadServerConfig() (*ServerConfig, error) {
	loadEnvFiles()

	cfg := &ServerConfig{
		Port:              uint16(getEnvInt("ORWELL_PORT", defaultPort)),
		CertFullchainPath: getEnv("ORWELL_CERT_FULLCHAIN_PATH", ""),
		CertKeyPath:       getEnv("ORWELL_CERT_KEY_PATH", ""),
		HistoryDBPath:     getEnv("ORWELL_HISTORY_DB", "orwell-history.db"),
		MetricsAddr:       getEnv("ORWELL_METRICS_ADDR", ":9090"),
	}

	if cfg.CertFullchainPath == "" || cfg.CertKeyPath == "" {
		if vault, err := newVaultClient(); err == nil && vault != nil {
			if fullchain, key, verr := vault.fetchTLSMaterial(); verr == nil {
				cfg.CertFullchainPath = fullchain
				cfg.CertKeyPath = key
			} else {
				log.Printf("config: Vault TLS lookup failed, falling back to on-disk paths: %v", verr)
			}
		}
	}

	return cfg, nil
}

// LoadClientConfig reads the client's configuration from the environment.
func LoadClientConfig() *ClientConfig {
	loadEnvFiles()
	return &ClientConfig{ServerURL: getEnv("ORWELL_SERVER_URL", "")}
}

// vaultClient wraps a HashiCorp Vault KV client, used only to source TLS
// certificate material when it is not provided on disk.
type vaultClient struct {
	client     *api.Client
	mountPath  string
	secretPath string
}

// newVaultClient builds a vaultClient from VAULT_ADDR/VAULT_TOKEN, returning
// (nil, nil) if Vault integration is not configured.
func newVaultClient() (*vaultClient, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		return nil, nil
	}

	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("config: create Vault client: %w", err)
	}
	client.SetToken(token)

	return &vaultClient{
		client:     client,
		mountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
		secretPath: getEnv("VAULT_TLS_PATH", "orwell/tls"),
	}, nil
}

// fetchTLSMaterial retrieves the fullchain and key PEM paths (or inline PEM
// written to a temp path by the caller's deployment tooling) stored under
// the configured KV secret.
func (v *vaultClient) fetchTLSMaterial() (fullchainPath, keyPath string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.secretPath)
	if err != nil {
		return "", "", fmt.Errorf("config: read Vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", "", fmt.Errorf("config: no TLS material at %s/%s", v.mountPath, v.secretPath)
	}

	fullchainPath, ok := secret.Data["cert_fullchain_path"].(string)
	if !ok {
		return "", "", fmt.Errorf("config: cert_fullchain_path missing from Vault secret")
	}
	keyPath, ok = secret.Data["cert_key_path"].(string)
	if !ok {
		return "", "", fmt.Errorf("config: cert_key_path missing from Vault secret")
	}
	return fullchainPath, keyPath, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
