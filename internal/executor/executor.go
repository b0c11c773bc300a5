package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"meeting-pipeline/internal/entity"
)

// DefaultProvider is used for stage kinds that have no provider option.
const DefaultProvider = "default"

// Request is everything a stage executor gets to do its work.
type Request struct {
	Stage  entity.Stage
	Inputs []entity.InputDescriptor
	Config entity.Config
	// Logf appends a line to the job log.
	Logf func(format string, args ...any)
}

func (r Request) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

type Result struct {
	Output  json.RawMessage `json:"output,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Skip builds the error an executor returns when its stage has nothing to do.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", entity.ErrStageSkipped, reason)
}

var providerOptions = map[string]string{
	KindTranscription: entity.OptTranscriptionProvider,
	KindText:          entity.OptTextProvider,
	KindLLM:           entity.OptLLMProvider,
	KindManagement:    entity.OptManagementPlugin,
	KindService:       entity.OptServicePlugin,
}

// ProviderFor returns the provider cfg selects for a stage kind.
func ProviderFor(kind string, cfg entity.Config) string {
	if opt, ok := providerOptions[kind]; ok {
		return cfg.Get(opt)
	}
	return DefaultProvider
}

// Registry maps (kind, provider) to an executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]map[string]Executor)}
}

func (r *Registry) Register(kind, provider string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byProvider, ok := r.executors[kind]
	if !ok {
		byProvider = make(map[string]Executor)
		r.executors[kind] = byProvider
	}
	byProvider[provider] = ex
}

// Resolve picks the executor for stage according to cfg.
func (r *Registry) Resolve(stage entity.Stage, cfg entity.Config) (Executor, error) {
	provider := ProviderFor(stage.Kind, cfg)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[stage.Kind][provider]
	if !ok {
		return nil, fmt.Errorf("no executor for stage kind %q provider %q", stage.Kind, provider)
	}
	return ex, nil
}
