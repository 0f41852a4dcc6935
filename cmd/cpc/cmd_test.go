package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/charprefix/internal/provider"
	"github.com/born-ml/charprefix/internal/sampling"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CPC_PROVIDER", "")
	t.Setenv("CPC_TOKENIZER", "")

	var stdout, stderr bytes.Buffer
	cmd := NewCLI()
	cmd.SetArgs(append(args, "--no-dotenv", "--log-level", "error"))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cpc "+version+"\n", out)
}

func TestSample_Offline(t *testing.T) {
	out, err := run(t, "sample", "def", "--tokenizer", "charhash", "--seed", "3", "--max-tokens", "6")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "def"), "output %q", out)
}

func TestSample_JSON(t *testing.T) {
	out, err := run(t, "sample", "ret", "--tokenizer", "charhash", "--seed", "1", "--max-tokens", "3", "--json")
	require.NoError(t, err)

	var res jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ret", res.Text)
	assert.Len(t, res.Tokens, 3)
	assert.Equal(t, sampling.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.RunID)
}

func TestSample_Stream(t *testing.T) {
	out, err := run(t, "sample", "if (", "--tokenizer", "charhash", "--seed", "9", "--max-tokens", "8", "--stream", "--stop", `\n`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "if ("), "output %q", out)
}

func TestSample_Unsatisfiable(t *testing.T) {
	_, err := run(t, "sample", "naïve", "--tokenizer", "charhash", "--max-tokens", "10")
	assert.ErrorIs(t, err, errUnsuccessful)
}

func TestSample_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative temperature", []string{"--temperature", "-1"}},
		{"top p above one", []string{"--top-p", "1.5"}},
		{"zero max tokens", []string{"--max-tokens", "0"}},
		{"empty stop", []string{"--stop", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"sample", "x", "--tokenizer", "charhash"}, tt.args...)
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestSample_UnknownProvider(t *testing.T) {
	t.Setenv("CPC_API_KEY", "k")
	_, err := run(t, "sample", "x", "--tokenizer", "charhash", "--provider", "nope")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
	assert.ErrorContains(t, err, "available: gemini, openai")
}

func TestLoadConfig_VendorKeyAfterProviderFlag(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		env      string
	}{
		{"openai", "openai", "OPENAI_API_KEY"},
		{"gemini", "gemini", "GEMINI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CPC_PROVIDER", "")
			t.Setenv("CPC_API_KEY", "")
			t.Setenv("CPC_TOKENIZER", "")
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv(tt.env, "sk-test")

			cmd, _, err := NewCLI().Find([]string{"sample"})
			require.NoError(t, err)
			require.NoError(t, cmd.ParseFlags([]string{"--no-dotenv", "--provider", tt.provider}))

			cfg, err := loadConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, cfg.Provider.Name)
			assert.Equal(t, "sk-test", cfg.Provider.APIKey)
		})
	}
}

func TestSample_MissingArg(t *testing.T) {
	_, err := run(t, "sample")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	out, err := run(t, "lookup", "de", "--tokenizer", "charhash")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1 tokens", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], `"d"`), "line %q", lines[1])
}

func TestLookup_Limit(t *testing.T) {
	out, err := run(t, "lookup", "", "--tokenizer", "charhash", "--limit", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[3], "... "), "line %q", lines[3])
}
