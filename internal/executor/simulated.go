package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"meeting-pipeline/internal/entity"
)

// Stage timings of the desktop demo, before scaling.
var simulatedDelays = map[string]time.Duration{
	KindValidate:      500 * time.Millisecond,
	KindConvert:       800 * time.Millisecond,
	KindTranscription: 3000 * time.Millisecond,
	KindText:          1200 * time.Millisecond,
	KindLLM:           1500 * time.Millisecond,
	KindManagement:    600 * time.Millisecond,
	KindService:       400 * time.Millisecond,
	KindArtifacts:     300 * time.Millisecond,
	KindMeeting:       200 * time.Millisecond,
}

// Simulated stands in for real work: it waits, emits progress lines, and
// returns a canned output built from the request. The first progress line
// doubles as the stage message.
type Simulated struct {
	Delay time.Duration
	Work  func(req Request) (json.RawMessage, []string, error)
}

func (s Simulated) Execute(ctx context.Context, req Request) (Result, error) {
	out, lines, err := s.Work(req)

	// progress lines are spread over the delay like a real tool's output
	step := s.Delay / time.Duration(len(lines)+1)
	for _, line := range lines {
		if err := sleep(ctx, step); err != nil {
			return Result{}, err
		}
		req.logf("%s", line)
	}
	if err := sleep(ctx, step); err != nil {
		return Result{}, err
	}

	if err != nil {
		return Result{}, err
	}
	res := Result{Output: out}
	if len(lines) > 0 {
		res.Message = lines[0]
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewSimulatedRegistry registers simulated executors for every meeting stage
// and provider. scale multiplies the demo timings; 0 makes stages instant.
func NewSimulatedRegistry(scale float64) *Registry {
	if scale < 0 {
		scale = 0
	}
	delay := func(kind string) time.Duration {
		return time.Duration(float64(simulatedDelays[kind]) * scale)
	}

	r := NewRegistry()
	r.Register(KindValidate, DefaultProvider, Simulated{Delay: delay(KindValidate), Work: validateInputs})
	r.Register(KindConvert, DefaultProvider, Simulated{Delay: delay(KindConvert), Work: convertAudio})

	for _, p := range []string{"whisper.cpp", "whisper.fake", "whisper.mock"} {
		r.Register(KindTranscription, p, Simulated{Delay: delay(KindTranscription), Work: transcribe(p)})
	}
	for _, p := range []string{"cleanup", "sentence-transformers", "openai", "local"} {
		r.Register(KindText, p, Simulated{Delay: delay(KindText), Work: processText(p)})
	}
	for _, p := range []string{"deepseek", "edit", "openrouter", "ollama"} {
		r.Register(KindLLM, p, Simulated{Delay: delay(KindLLM), Work: summarize(p)})
	}

	r.Register(KindManagement, "tasks", Simulated{Delay: delay(KindManagement), Work: extractTasks})
	r.Register(KindManagement, "none", Simulated{Work: disabled("management")})
	r.Register(KindService, "search", Simulated{Delay: delay(KindService), Work: indexSearch})
	r.Register(KindService, "none", Simulated{Work: disabled("service")})

	r.Register(KindArtifacts, DefaultProvider, Simulated{Delay: delay(KindArtifacts), Work: writeArtifacts})
	r.Register(KindMeeting, DefaultProvider, Simulated{Delay: delay(KindMeeting), Work: updateMeeting})
	return r
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func totalDuration(inputs []entity.InputDescriptor) time.Duration {
	var d time.Duration
	for _, in := range inputs {
		d += in.Duration
	}
	return d
}

// segmentCount assumes whisper emits roughly one segment per five seconds of audio.
func segmentCount(inputs []entity.InputDescriptor) int {
	n := int(totalDuration(inputs) / (5 * time.Second))
	if n < 1 {
		n = 1
	}
	return n
}

func validateInputs(req Request) (json.RawMessage, []string, error) {
	var total int64
	for _, in := range req.Inputs {
		if in.SizeBytes <= 0 {
			return nil, nil, fmt.Errorf("input %s is empty", in.Name)
		}
		total += in.SizeBytes
	}
	lines := []string{fmt.Sprintf("Validated %d file(s), %d bytes", len(req.Inputs), total)}
	return mustJSON(map[string]any{"files": len(req.Inputs), "total_bytes": total}), lines, nil
}

func convertAudio(req Request) (json.RawMessage, []string, error) {
	lines := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		lines = append(lines, fmt.Sprintf("Converting %s to 16kHz mono WAV", in.Name))
	}
	return mustJSON(map[string]any{"format": "wav", "sample_rate": 16000, "channels": 1, "files": len(req.Inputs)}), lines, nil
}

func transcribe(provider string) func(Request) (json.RawMessage, []string, error) {
	return func(req Request) (json.RawMessage, []string, error) {
		lang := req.Config.Get(entity.OptLanguage)
		var langLine string
		switch req.Config.Get(entity.OptLanguageMode) {
		case "forced":
			langLine = "Using forced language: " + lang
		case "none":
			lang = ""
			langLine = "Language detection disabled"
		default:
			langLine = "Detected language: " + lang
		}

		segments := segmentCount(req.Inputs)
		lines := []string{
			langLine,
			fmt.Sprintf("Processing %d segments...", segments),
		}
		out := mustJSON(map[string]any{
			"provider": provider,
			"model":    req.Config.Get(entity.OptTranscriptionModel),
			"language": lang,
			"segments": segments,
			"artifact": "transcript.txt",
		})
		return out, lines, nil
	}
}

func processText(provider string) func(Request) (json.RawMessage, []string, error) {
	return func(req Request) (json.RawMessage, []string, error) {
		segments := segmentCount(req.Inputs)
		paragraphs := segments/8 + 1
		lines := []string{fmt.Sprintf("Cleaned %d segments into %d paragraphs", segments, paragraphs)}
		return mustJSON(map[string]any{"provider": provider, "paragraphs": paragraphs}), lines, nil
	}
}

func summarize(provider string) func(Request) (json.RawMessage, []string, error) {
	return func(req Request) (json.RawMessage, []string, error) {
		lines := []string{"Requesting summary from " + provider}
		return mustJSON(map[string]any{"provider": provider, "artifact": "summary.md", "action_items": 3}), lines, nil
	}
}

func extractTasks(req Request) (json.RawMessage, []string, error) {
	return mustJSON(map[string]any{"tasks": 3}), []string{"Extracted 3 action items"}, nil
}

func indexSearch(req Request) (json.RawMessage, []string, error) {
	segments := segmentCount(req.Inputs)
	return mustJSON(map[string]any{"indexed_segments": segments}), []string{fmt.Sprintf("Indexed %d segments", segments)}, nil
}

func disabled(plugin string) func(Request) (json.RawMessage, []string, error) {
	return func(Request) (json.RawMessage, []string, error) {
		return nil, nil, Skip(plugin + " plugin disabled")
	}
}

func writeArtifacts(req Request) (json.RawMessage, []string, error) {
	files := []string{"transcript.txt", "summary.md", "structured.json", "MEETING.json"}
	return mustJSON(map[string]any{"files": files}), []string{"Wrote " + strings.Join(files, ", ")}, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// MeetingID names a meeting after its first input and a timestamp,
// e.g. 2026-01-12_14-30-00_team-sync.
func MeetingID(inputs []entity.InputDescriptor, at time.Time) string {
	slug := "meeting"
	if len(inputs) > 0 {
		base := strings.TrimSuffix(inputs[0].Name, filepath.Ext(inputs[0].Name))
		if s := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(base), "-"), "-"); s != "" {
			slug = s
		}
	}
	return at.Format("2006-01-02_15-04-05") + "_" + slug
}

func updateMeeting(req Request) (json.RawMessage, []string, error) {
	id := MeetingID(req.Inputs, time.Now())
	return mustJSON(map[string]any{"meeting_id": id, "schema_version": "1.0"}), []string{"Meeting passport " + id}, nil
}
