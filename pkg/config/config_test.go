package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
)

func pemKey(t *testing.T, curve elliptic.Curve) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	if curve == elliptic.P256() {
		s, err := crypto.EncodePublicKeyPEM(&priv.PublicKey)
		require.NoError(t, err)
		return s
	}
	s, err := encodeAnyPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return s
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.RulesCacheTTL)
	assert.Equal(t, 1, cfg.MinValidSuperAdminSignatures)
	assert.Equal(t, 10.0, cfg.APIRateLimit)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Environment(t *testing.T) {
	k1, k2 := pemKey(t, elliptic.P256()), pemKey(t, elliptic.P256())
	t.Setenv("PROTECT_API_URL", "https://protect.example.com")
	t.Setenv("PROTECT_SUPERADMIN_KEYS", k1+k2)
	t.Setenv("PROTECT_MIN_VALID_SIGNATURES", "2")
	t.Setenv("PROTECT_RULES_CACHE_TTL", "90s")
	t.Setenv("PROTECT_TELEMETRY_ENABLED", "true")
	t.Setenv("PROTECT_REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://protect.example.com", cfg.APIURL)
	assert.Equal(t, []string{k1, k2}, cfg.SuperAdminKeys)
	assert.Equal(t, 2, cfg.MinValidSuperAdminSignatures)
	assert.Equal(t, 90*time.Second, cfg.RulesCacheTTL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	require.NoError(t, cfg.Validate())

	keys, err := cfg.ParseSuperAdminKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("PROTECT_MIN_VALID_SIGNATURES", "two")
	t.Setenv("PROTECT_RULES_CACHE_TTL", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROTECT_MIN_VALID_SIGNATURES")
	assert.Contains(t, err.Error(), "PROTECT_RULES_CACHE_TTL")
}

func TestLoadFile_YAMLWithEnvOverride(t *testing.T) {
	k1 := pemKey(t, elliptic.P256())
	k2 := pemKey(t, elliptic.P256())
	indent := func(s string) string {
		return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
	}
	doc := "api_url: https://api.local\n" +
		"min_valid_superadmin_signatures: 2\n" +
		"rules_cache_ttl: 2m\n" +
		"superadmin_keys:\n" +
		"  - |\n" + indent(k1) + "\n" +
		"  - |\n" + indent(k2) + "\n" +
		"redis:\n  addr: localhost:6379\n" +
		"telemetry:\n  sample_rate: 0.5\n"
	path := filepath.Join(t.TempDir(), "protect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	t.Setenv("PROTECT_API_URL", "https://override.local")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.local", cfg.APIURL)
	assert.Equal(t, 2*time.Minute, cfg.RulesCacheTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "protect:rules_container", cfg.Redis.Key, "defaults survive partial sections")
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{k1, k2}, cfg.SuperAdminKeys)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_cache_ttl: [1, 2]\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	key := pemKey(t, elliptic.P256())
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no keys", func(c *Config) { c.SuperAdminKeys = nil }, "no SuperAdmin keys"},
		{"zero threshold", func(c *Config) { c.MinValidSuperAdminSignatures = 0 }, "at least 1"},
		{"threshold above keys", func(c *Config) { c.MinValidSuperAdminSignatures = 2 }, "only 1 keys"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample rate"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"negative ttl", func(c *Config) { c.RulesCacheTTL = -time.Second }, "TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.SuperAdminKeys = []string{key}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSuperAdminKeys_RejectsOtherCurves(t *testing.T) {
	cfg := Default()
	cfg.SuperAdminKeys = []string{pemKey(t, elliptic.P384())}
	_, err := cfg.ParseSuperAdminKeys()
	assert.Error(t, err)
}

func TestSplitPEM(t *testing.T) {
	k := pemKey(t, elliptic.P256())
	assert.Equal(t, []string{k, k}, SplitPEM(k+"\n"+k))
	assert.Equal(t, []string{"not pem"}, SplitPEM("not pem"))
	assert.Empty(t, SplitPEM("  "))
}
