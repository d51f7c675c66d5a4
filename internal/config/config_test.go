package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("OPENAI_ASSISTANT_ID", "asst_123")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("RELAY_RATE_PER_MINUTE", "5")
	t.Setenv("IMAGE_EDIT_KEYWORDS", "tweak;recolor")

	cfg := Defaults()
	require.NoError(t, env.Parse(cfg))

	assert.Equal(t, "asst_123", cfg.OpenAI.AssistantID)
	assert.Equal(t, 250*time.Millisecond, cfg.OpenAI.PollInterval)
	assert.Equal(t, 30, cfg.OpenAI.PollMaxAttempts)
	assert.Equal(t, 5, cfg.Server.RatePerMinute)
	assert.Equal(t, "127.0.0.1:8888", cfg.Server.BindAddr)
	assert.Equal(t, []string{"tweak", "recolor"}, cfg.Intent.EditKeywords)
	assert.Equal(t, "gpt-image-1", cfg.Image.Model)
}

func TestParseListFlag(t *testing.T) {
	def := []string{"x"}
	assert.Equal(t, def, parseListFlag("", def))
	assert.Equal(t, def, parseListFlag(" ; ;", def))
	assert.Equal(t, []string{"draw", "show me"}, parseListFlag(" draw ;show me;", def))
}
