// Package config defines the immutable configuration record threaded into
// every connectord subsystem at construction time. There is no mutable
// global config singleton: components receive the fields they need from the
// *Config their constructor is given, per the Design Notes anti-pattern list.
package config

import (
	"fmt"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

// KeyBackend enumerates the supported KeyManager backends.
type KeyBackend string

const (
	KeyBackendEnv      KeyBackend = "env"
	KeyBackendAWSKMS   KeyBackend = "aws-kms"
	KeyBackendGCPKMS   KeyBackend = "gcp-kms"
	KeyBackendAzureKV  KeyBackend = "azure-kv"
	KeyBackendHSM      KeyBackend = "hsm"
)

// SettlementPreference enumerates which settlement methods are enabled.
type SettlementPreference string

const (
	SettlementEVM  SettlementPreference = "evm"
	SettlementXRP  SettlementPreference = "xrp"
	SettlementBoth SettlementPreference = "both"
)

// Config is the fully parsed, validated configuration for a connectord
// process. Every field corresponds to an environment/config option listed
// in spec §6.
type Config struct {
	NodeID  string `long:"node-id" env:"NODE_ID" description:"logical node identity used in telemetry and auth"`
	BTPPort int    `long:"btp-port" env:"BTP_PORT" default:"7768" description:"inbound BTP WebSocket listen port"`

	PeerSecrets map[string]string `no-flag:"true"`

	// PeerURLs maps peerId -> outbound BTP WebSocket URL, from the
	// BTP_PEER_<peerId>_URL convention (the outbound-dial counterpart of
	// BTP_PEER_<peerId>_SECRET; a peer with a secret but no URL is
	// inbound-only and never dialed).
	PeerURLs map[string]string `no-flag:"true"`

	SettlementPreference SettlementPreference `long:"settlement-preference" env:"SETTLEMENT_PREFERENCE" default:"both"`

	EVMAddress  string `long:"evm-address" env:"EVM_ADDRESS"`
	BaseRPCURL  string `long:"base-rpc-url" env:"BASE_RPC_URL"`

	XRPAddress string `long:"xrp-address" env:"XRP_ADDRESS"`
	XRPLWSSURL string `long:"xrpl-wss-url" env:"XRPL_WSS_URL"`

	KeyBackend KeyBackend `long:"key-backend" env:"KEY_BACKEND" default:"env"`

	AWSRegion string `long:"aws-region" env:"AWS_KMS_REGION"`
	AWSKeyID  string `long:"aws-key-id" env:"AWS_KMS_KEY_ID"`

	GCPProject  string `long:"gcp-project" env:"GCP_KMS_PROJECT"`
	GCPLocation string `long:"gcp-location" env:"GCP_KMS_LOCATION"`
	GCPKeyring  string `long:"gcp-keyring" env:"GCP_KMS_KEYRING"`

	AzureVaultURL string `long:"azure-vault-url" env:"AZURE_KV_VAULT_URL"`
	AzureKeyName  string `long:"azure-key-name" env:"AZURE_KV_KEY_NAME"`

	PKCS11Lib   string `long:"pkcs11-lib" env:"HSM_PKCS11_LIB"`
	PKCS11Slot  uint   `long:"pkcs11-slot" env:"HSM_PKCS11_SLOT"`
	PKCS11Pin   string `long:"pkcs11-pin" env:"HSM_PKCS11_PIN"`
	PKCS11Label string `long:"pkcs11-label" env:"HSM_PKCS11_LABEL"`

	LogLevel          string `long:"log-level" env:"LOG_LEVEL" default:"info"`
	PrometheusEnabled bool   `long:"prometheus-enabled" env:"PROMETHEUS_ENABLED"`
	HealthCheckPort   int    `long:"health-check-port" env:"HEALTH_CHECK_PORT" default:"8090"`

	TigerBeetleClusterID uint32   `long:"tigerbeetle-cluster-id" env:"TIGERBEETLE_CLUSTER_ID"`
	TigerBeetleReplicas  []string `long:"tigerbeetle-replicas" env:"TIGERBEETLE_REPLICAS" env-delim:","`

	DefaultInitialDeposit  string `long:"default-initial-deposit" env:"SETTLEMENT_DEFAULT_INITIAL_DEPOSIT" default:"1000000"`
	DefaultSettlementTimeoutSecs int `long:"default-settlement-timeout" env:"SETTLEMENT_DEFAULT_TIMEOUT_SECS" default:"3600"`
	RetryAttempts          int    `long:"retry-attempts" env:"SETTLEMENT_RETRY_ATTEMPTS" default:"3"`
	RetryDelayMs           int    `long:"retry-delay-ms" env:"SETTLEMENT_RETRY_DELAY_MS" default:"100"`

	EventStorePath      string `long:"event-store-path" env:"EVENT_STORE_PATH" default:"connectord-events.db"`
	EventStoreMaxCount  int    `long:"event-store-max-count" env:"EVENT_STORE_MAX_COUNT" default:"1000000"`
	EventStoreMaxAgeMs  int64  `long:"event-store-max-age-ms" env:"EVENT_STORE_MAX_AGE_MS" default:"604800000"`
}

// Load parses process environment variables (and any CLI flags present in
// args) into a Config and validates the chosen KeyBackend's required
// sub-block, per §4.A: "the chosen backend's required configuration block
// MUST be validated at construction".
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default|flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.PeerSecrets = peerSecretsFromEnviron()
	cfg.PeerURLs = peerURLsFromEnviron()

	if err := cfg.validateKeyBackend(); err != nil {
		return nil, err
	}
	if err := cfg.validateSettlementPreference(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validateKeyBackend() error {
	switch c.KeyBackend {
	case KeyBackendEnv:
		return nil
	case KeyBackendAWSKMS:
		if c.AWSRegion == "" || c.AWSKeyID == "" {
			return fmt.Errorf("key backend aws-kms requires AWS_KMS_REGION and AWS_KMS_KEY_ID")
		}
	case KeyBackendGCPKMS:
		if c.GCPProject == "" || c.GCPLocation == "" || c.GCPKeyring == "" {
			return fmt.Errorf("key backend gcp-kms requires GCP_KMS_PROJECT, GCP_KMS_LOCATION, GCP_KMS_KEYRING")
		}
	case KeyBackendAzureKV:
		if c.AzureVaultURL == "" || c.AzureKeyName == "" {
			return fmt.Errorf("key backend azure-kv requires AZURE_KV_VAULT_URL and AZURE_KV_KEY_NAME")
		}
	case KeyBackendHSM:
		if c.PKCS11Lib == "" || c.PKCS11Label == "" {
			return fmt.Errorf("key backend hsm requires HSM_PKCS11_LIB and HSM_PKCS11_LABEL")
		}
	default:
		return fmt.Errorf("unknown key backend %q", c.KeyBackend)
	}
	return nil
}

func (c *Config) validateSettlementPreference() error {
	switch c.SettlementPreference {
	case SettlementEVM, SettlementXRP, SettlementBoth:
		return nil
	default:
		return fmt.Errorf("unknown settlement preference %q", c.SettlementPreference)
	}
}

// peerSecretBase is the prefix used by the BTP_PEER_<peerId>_SECRET
// environment convention described in spec §6.
const peerSecretBase = "BTP_PEER_"
const peerSecretSuffix = "_SECRET"

func peerSecretsFromEnviron() map[string]string {
	secrets := make(map[string]string)
	for _, kv := range environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(k, peerSecretBase) || !strings.HasSuffix(k, peerSecretSuffix) {
			continue
		}
		peerID := strings.TrimSuffix(strings.TrimPrefix(k, peerSecretBase), peerSecretSuffix)
		if peerID == "" {
			continue
		}
		secrets[peerID] = v
	}
	return secrets
}

const peerURLSuffix = "_URL"

func peerURLsFromEnviron() map[string]string {
	urls := make(map[string]string)
	for _, kv := range environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(k, peerSecretBase) || !strings.HasSuffix(k, peerURLSuffix) {
			continue
		}
		peerID := strings.TrimSuffix(strings.TrimPrefix(k, peerSecretBase), peerURLSuffix)
		if peerID == "" {
			continue
		}
		urls[peerID] = v
	}
	return urls
}
