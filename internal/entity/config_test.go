package entity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/entity"
)

func TestConfigNormalize_FillsDefaults(t *testing.T) {
	cfg, err := entity.Config{entity.OptLLMProvider: "ollama"}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg[entity.OptLLMProvider])
	assert.Equal(t, "whisper.cpp", cfg[entity.OptTranscriptionProvider])
	assert.Equal(t, "false", cfg[entity.OptForceRun])
	assert.Len(t, cfg, len(entity.Options()))
}

func TestConfigNormalize_RejectsUnknownOptionAndValue(t *testing.T) {
	_, err := entity.Config{"color": "blue"}.Normalize()
	assert.True(t, errors.Is(err, entity.ErrInvalidConfig))

	_, err = entity.Config{entity.OptTranscriptionModel: "huge"}.Normalize()
	assert.True(t, errors.Is(err, entity.ErrInvalidConfig))
}

func TestConfigCanonical_SortedAndIgnoresForceRun(t *testing.T) {
	a := entity.Config{"llm.provider": "edit", "force_run": "true", "text.provider": "local"}
	b := entity.Config{"text.provider": "local", "llm.provider": "edit", "force_run": "false"}

	assert.Equal(t, "llm.provider=edit;text.provider=local", a.Canonical())
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.True(t, a.ForceRun())
	assert.False(t, b.ForceRun())
}
