package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_BasicSubstitution(t *testing.T) {
	t.Setenv("PRAXIS_EXPAND_KEY", "secret-123")

	out := ExpandEnv([]byte("api_key: {{.PRAXIS_EXPAND_KEY}}"))
	assert.Equal(t, "api_key: secret-123", string(out))
}

func TestExpandEnv_MissingVariableExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("value: '{{.PRAXIS_DOES_NOT_EXIST_XYZ}}'"))
	assert.Equal(t, "value: ''", string(out))
}

func TestExpandEnv_DollarSignsUntouched(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"` + "\n" + `shell: "$PATH and ${ARRAY[0]}"`)
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnv_MalformedTemplatePassthrough(t *testing.T) {
	in := []byte("broken: {{.UNCLOSED")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnv_MultipleVariables(t *testing.T) {
	t.Setenv("PRAXIS_HOST", "db.example.com")
	t.Setenv("PRAXIS_PORT", "5432")

	out := ExpandEnv([]byte("addr: {{.PRAXIS_HOST}}:{{.PRAXIS_PORT}}"))
	assert.Equal(t, "addr: db.example.com:5432", string(out))
}
