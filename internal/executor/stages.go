package executor

import (
	"fmt"

	"meeting-pipeline/internal/entity"
)

const (
	KindValidate      = "validate"
	KindConvert       = "convert"
	KindTranscription = "transcription"
	KindText          = "text"
	KindLLM           = "llm"
	KindManagement    = "management"
	KindService       = "service"
	KindArtifacts     = "artifacts"
	KindMeeting       = "meeting"
)

// MeetingStages is the stage list of a meeting processing job. Labels name the
// providers cfg selects.
func MeetingStages(cfg entity.Config) []entity.StageDefinition {
	return []entity.StageDefinition{
		{ID: "validate", Label: "Validate Inputs", Kind: KindValidate, CacheEligible: true},
		{ID: "convert", Label: "Audio Conversion", Kind: KindConvert, CacheEligible: true},
		{ID: "transcription", Label: providerLabel("Transcription", KindTranscription, cfg), Kind: KindTranscription, CacheEligible: true},
		{ID: "text", Label: providerLabel("Text Processing", KindText, cfg), Kind: KindText, CacheEligible: true},
		{ID: "llm", Label: providerLabel("LLM Processing", KindLLM, cfg), Kind: KindLLM, CacheEligible: true},
		{ID: "management", Label: providerLabel("Management", KindManagement, cfg), Kind: KindManagement, CacheEligible: true},
		{ID: "service", Label: providerLabel("Service", KindService, cfg), Kind: KindService, CacheEligible: true},
		{ID: "artifacts", Label: "Write Artifacts", Kind: KindArtifacts},
		{ID: "meeting", Label: "Update Meeting Passport", Kind: KindMeeting},
	}
}

func providerLabel(name, kind string, cfg entity.Config) string {
	return fmt.Sprintf("%s (%s)", name, ProviderFor(kind, cfg))
}
