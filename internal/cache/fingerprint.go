package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"meeting-pipeline/internal/entity"
)

type fingerprintInput struct {
	Ref       string    `json:"ref"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
}

type fingerprintDoc struct {
	Stage  string             `json:"stage"`
	Kind   string             `json:"kind"`
	Inputs []fingerprintInput `json:"inputs"`
	Config string             `json:"config"`
}

// Fingerprint identifies the work a stage would do for inputs under cfg.
// Input order matters; force_run does not.
func Fingerprint(stageID, kind string, inputs []entity.InputDescriptor, cfg entity.Config) string {
	doc := fingerprintDoc{
		Stage:  stageID,
		Kind:   kind,
		Inputs: make([]fingerprintInput, 0, len(inputs)),
		Config: cfg.Canonical(),
	}
	for _, in := range inputs {
		doc.Inputs = append(doc.Inputs, fingerprintInput{
			Ref:       in.Ref,
			Name:      in.Name,
			SizeBytes: in.SizeBytes,
			ModTime:   in.ModTime.UTC(),
		})
	}

	// struct fields and a pre-sorted config string keep the encoding stable
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
