package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfig_GetString_FallsBackToDefault(t *testing.T) {
	ec := NewEnvConfig("FISCALCORE")
	assert.Equal(t, "fallback", ec.GetString("DOES_NOT_EXIST", "fallback"))
}

func TestEnvConfig_GetString_PrefixesKey(t *testing.T) {
	t.Setenv("FISCALCORE_BASE_URL", "https://example.test")
	ec := NewEnvConfig("FISCALCORE")
	assert.Equal(t, "https://example.test", ec.GetString("BASE_URL", ""))
}

func TestEnvConfig_GetInt_IgnoresUnparseableValue(t *testing.T) {
	t.Setenv("FISCALCORE_QUEUE_BATCH", "not-a-number")
	ec := NewEnvConfig("FISCALCORE")
	assert.Equal(t, 20, ec.GetInt("QUEUE_BATCH", 20))
}

func TestEnvConfig_GetBool_ParsesTrueFalse(t *testing.T) {
	t.Setenv("FISCALCORE_NETWORK_ENABLED", "false")
	ec := NewEnvConfig("FISCALCORE")
	assert.False(t, ec.GetBool("NETWORK_ENABLED", true))
}

func TestEnvironment_Valid(t *testing.T) {
	assert.True(t, EnvDevelopment.Valid())
	assert.True(t, EnvCertification.Valid())
	assert.True(t, EnvProduction.Valid())
	assert.False(t, Environment("staging").Valid())
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FISCALCORE_BASE_URL", "https://example.test")
	t.Setenv("FISCALCORE_DATABASE_URL", "postgres://localhost/fiscalcore")
	t.Setenv("FISCALCORE_ENCRYPTION_KEY", strings.Repeat("ab", 32))
}

func TestLoad_RejectsNon32ByteKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FISCALCORE_ENCRYPTION_KEY", "aabbcc")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestLoad_RejectsUnknownEnvironmentTag(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FISCALCORE_ENVIRONMENT", "staging")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ProductionDisablesNetworkAndAdminByDefault(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FISCALCORE_ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production)
	assert.False(t, cfg.NetworkEnabled)
	assert.False(t, cfg.AdminEnabled())
}

func TestLoad_ProductionForcesNetworkDisabledEvenIfExplicitlyEnabled(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FISCALCORE_ENVIRONMENT", "production")
	t.Setenv("FISCALCORE_NETWORK_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.NetworkEnabled, "production must hard-override an explicit network-enabled flag")
}

func TestLoad_DevelopmentEnablesAdminByDefault(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AdminEnabled())
	assert.True(t, cfg.NetworkEnabled)
}
