package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
)

func normalized(t *testing.T, c entity.Config) entity.Config {
	t.Helper()
	cfg, err := c.Normalize()
	require.NoError(t, err)
	return cfg
}

func stageOf(t *testing.T, cfg entity.Config, id string) entity.Stage {
	t.Helper()
	for _, s := range entity.NewStages(executor.MeetingStages(cfg)) {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("no stage %s", id)
	return entity.Stage{}
}

func TestMeetingStages_OrderAndLabels(t *testing.T) {
	cfg := normalized(t, entity.Config{entity.OptLLMProvider: "ollama"})
	defs := executor.MeetingStages(cfg)

	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"validate", "convert", "transcription", "text", "llm", "management", "service", "artifacts", "meeting"}, ids)
	assert.Equal(t, "Transcription (whisper.cpp)", defs[2].Label)
	assert.Equal(t, "LLM Processing (ollama)", defs[4].Label)
	assert.False(t, defs[7].CacheEligible)
	assert.False(t, defs[8].CacheEligible)
}

func TestSimulatedRegistry_ResolvesEveryStageForEveryProvider(t *testing.T) {
	reg := executor.NewSimulatedRegistry(0)

	for _, opt := range entity.Options() {
		for _, v := range opt.Values {
			cfg := normalized(t, entity.Config{opt.Name: v})
			for _, s := range entity.NewStages(executor.MeetingStages(cfg)) {
				_, err := reg.Resolve(s, cfg)
				assert.NoError(t, err, "%s=%s stage %s", opt.Name, v, s.ID)
			}
		}
	}
}

func TestRegistryResolve_UnknownProvider(t *testing.T) {
	reg := executor.NewRegistry()
	cfg := normalized(t, nil)

	_, err := reg.Resolve(stageOf(t, cfg, "llm"), cfg)
	assert.Error(t, err)
}

func TestTranscription_EmitsLogsAndOutput(t *testing.T) {
	reg := executor.NewSimulatedRegistry(0)
	cfg := normalized(t, entity.Config{entity.OptLanguageMode: "forced", entity.OptLanguage: "de"})
	stage := stageOf(t, cfg, "transcription")
	ex, err := reg.Resolve(stage, cfg)
	require.NoError(t, err)

	var lines []string
	res, err := ex.Execute(context.Background(), executor.Request{
		Stage:  stage,
		Inputs: []entity.InputDescriptor{{Name: "standup.mp3", SizeBytes: 10, Duration: 20 * time.Minute}},
		Config: cfg,
		Logf: func(format string, args ...any) {
			lines = append(lines, format)
			_ = args
		},
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "de", out["language"])
	assert.Equal(t, float64(240), out["segments"])
	assert.Len(t, lines, 2)
	assert.Equal(t, "Using forced language: de", res.Message)
}

func TestValidate_FailsOnEmptyInput(t *testing.T) {
	reg := executor.NewSimulatedRegistry(0)
	cfg := normalized(t, nil)
	stage := stageOf(t, cfg, "validate")
	ex, err := reg.Resolve(stage, cfg)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), executor.Request{
		Stage:  stage,
		Inputs: []entity.InputDescriptor{{Name: "empty.wav"}},
		Config: cfg,
	})
	assert.ErrorContains(t, err, "empty.wav")
}

func TestDisabledPlugin_Skips(t *testing.T) {
	reg := executor.NewSimulatedRegistry(0)
	cfg := normalized(t, entity.Config{entity.OptManagementPlugin: "none"})
	stage := stageOf(t, cfg, "management")
	ex, err := reg.Resolve(stage, cfg)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), executor.Request{Stage: stage, Config: cfg})
	assert.True(t, errors.Is(err, entity.ErrStageSkipped))
}

func TestSimulated_StopsOnShutdown(t *testing.T) {
	ex := executor.Simulated{
		Delay: time.Hour,
		Work: func(executor.Request) (json.RawMessage, []string, error) {
			return json.RawMessage(`{}`), nil, nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Execute(ctx, executor.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMeetingID(t *testing.T) {
	at := time.Date(2026, 1, 12, 14, 30, 0, 0, time.UTC)
	id := executor.MeetingID([]entity.InputDescriptor{{Name: "Team Sync.m4a"}}, at)
	assert.Equal(t, "2026-01-12_14-30-00_team-sync", id)
	assert.Equal(t, "2026-01-12_14-30-00_meeting", executor.MeetingID(nil, at))
}
