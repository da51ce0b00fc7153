package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToEnvBackend(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, KeyBackendEnv, cfg.KeyBackend)
	require.Equal(t, SettlementBoth, cfg.SettlementPreference)
}

func TestLoadRejectsIncompleteAWSKMSBlock(t *testing.T) {
	_, err := Load([]string{"--key-backend=aws-kms"})
	require.Error(t, err)
}

func TestLoadAcceptsCompleteAWSKMSBlock(t *testing.T) {
	cfg, err := Load([]string{
		"--key-backend=aws-kms",
		"--aws-region=us-east-1",
		"--aws-key-id=alias/connectord",
	})
	require.NoError(t, err)
	require.Equal(t, KeyBackendAWSKMS, cfg.KeyBackend)
}

func TestPeerSecretsFromEnviron(t *testing.T) {
	t.Setenv("BTP_PEER_peer-a_SECRET", "sekrit-a")
	t.Setenv("BTP_PEER_peer-b_SECRET", "sekrit-b")
	t.Setenv("UNRELATED", "1")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "sekrit-a", cfg.PeerSecrets["peer-a"])
	require.Equal(t, "sekrit-b", cfg.PeerSecrets["peer-b"])
}

func TestLoadRejectsUnknownSettlementPreference(t *testing.T) {
	_, err := Load([]string{"--settlement-preference=lightning"})
	require.Error(t, err)
}
