package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/diarize"
	"github.com/MrWong99/earshot/pkg/provider/emotion"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name-to-constructor table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	llm     factories[llm.Provider]
	stt     factories[stt.Provider]
	diarize factories[diarize.Provider]
	emotion factories[emotion.Provider]
	vad     factories[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:     newFactories[llm.Provider]("llm"),
		stt:     newFactories[stt.Provider]("stt"),
		diarize: newFactories[diarize.Provider]("diarize"),
		emotion: newFactories[emotion.Provider]("emotion"),
		vad:     newFactories[vad.Engine]("vad"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	register(r, r.llm, name, factory)
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	register(r, r.stt, name, factory)
}

// RegisterDiarizer registers a diarizer factory under name.
func (r *Registry) RegisterDiarizer(name string, factory Factory[diarize.Provider]) {
	register(r, r.diarize, name, factory)
}

// RegisterEmotion registers an emotion classifier factory under name.
func (r *Registry) RegisterEmotion(name string, factory Factory[emotion.Provider]) {
	register(r, r.emotion, name, factory)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory Factory[vad.Engine]) {
	register(r, r.vad, name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, entry)
}

// CreateDiarizer instantiates a diarizer using the factory registered under entry.Name.
func (r *Registry) CreateDiarizer(entry ProviderEntry) (diarize.Provider, error) {
	return create(r, r.diarize, entry)
}

// CreateEmotion instantiates an emotion classifier using the factory registered under entry.Name.
func (r *Registry) CreateEmotion(entry ProviderEntry) (emotion.Provider, error) {
	return create(r, r.emotion, entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, entry)
}

func register[T any](r *Registry, f factories[T], name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.m[name] = factory
}

func create[T any](r *Registry, f factories[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := f.m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}
