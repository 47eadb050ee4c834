package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars_AllThreeForms(t *testing.T) {
	t.Setenv("FOO_VAR", "bar")
	assert.Equal(t, "bar", expandEnvVars("${FOO_VAR}"))
	assert.Equal(t, "bar", expandEnvVars("$FOO_VAR"))
	assert.Equal(t, "bar", expandEnvVars("${UNSET_VAR:-bar}"))
}

func TestExpandEnvVars_NoDollarSignReturnsUnchanged(t *testing.T) {
	assert.Equal(t, "plain string", expandEnvVars("plain string"))
}

func TestExpandEnvVars_DefaultNotUsedWhenVarSet(t *testing.T) {
	t.Setenv("SET_VAR", "actual")
	assert.Equal(t, "actual", expandEnvVars("${SET_VAR:-fallback}"))
}

func TestParseValue_TypeInference(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 3.14, parseValue("3.14"))
	assert.Equal(t, "hello", parseValue("hello"))
}

func TestExpandEnvVarsInData_RecursesThroughMapsAndSlices(t *testing.T) {
	t.Setenv("NESTED_VAR", "5")
	data := map[string]interface{}{
		"a": "${NESTED_VAR}",
		"b": []interface{}{"${NESTED_VAR}", "plain"},
	}
	out := ExpandEnvVarsInData(data).(map[string]interface{})
	assert.Equal(t, 5, out["a"])
	list := out["b"].([]interface{})
	assert.Equal(t, 5, list[0])
	assert.Equal(t, "plain", list[1])
}

func TestLoadDotEnv_ExistingKeysNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PRESET_EXISTING=from_file\nPRESET_NEW=from_file\n"), 0o644))

	t.Setenv("PRESET_EXISTING", "from_process")
	os.Unsetenv("PRESET_NEW")

	require.NoError(t, LoadDotEnv(envPath))
	assert.Equal(t, "from_process", os.Getenv("PRESET_EXISTING"))
	assert.Equal(t, "from_file", os.Getenv("PRESET_NEW"))
}

func TestLoadDotEnv_MissingPathIsNotAnError(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}
