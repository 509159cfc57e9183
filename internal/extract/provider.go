// Package extract holds the extraction providers, one per source kind, and
// the registry that creates them on first use and closes them at shutdown.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"harvest/internal/models"

	log "github.com/sirupsen/logrus"
)

// Request is the input of one extraction attempt.
type Request struct {
	Target      string
	FileName    string
	FileContent []byte
	Options     json.RawMessage
}

// Provider extracts a document from one kind of source. Errors are
// classified with models.NewTransientError / models.NewFatalError; anything
// else is treated as fatal by the caller.
type Provider interface {
	Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error)
	Close() error
}

// Factory builds a provider the first time its kind is needed.
type Factory func() (Provider, error)

// Registry maps source kinds to lazily created, cached providers.
type Registry struct {
	mu        sync.Mutex
	factories map[models.SourceKind]Factory
	providers map[models.SourceKind]Provider
	closed    bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[models.SourceKind]Factory),
		providers: make(map[models.SourceKind]Provider),
	}
}

// Register installs the factory for kind, replacing any earlier one.
func (r *Registry) Register(kind models.SourceKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Get returns the cached provider for kind, creating it on first use.
func (r *Registry) Get(kind models.SourceKind) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, models.NewFatalError("extraction providers are shut down", nil)
	}
	if p, ok := r.providers[kind]; ok {
		return p, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, &models.UnsupportedSourceError{Source: kind}
	}
	p, err := factory()
	if err != nil {
		return nil, models.NewFatalError(fmt.Sprintf("initialize %s provider", kind), err)
	}
	r.providers[kind] = p
	log.WithField("source", kind).Debug("extraction provider initialized")
	return p, nil
}

// Kinds lists the registered source kinds in sorted order.
func (r *Registry) Kinds() []models.SourceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.SourceKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Active lists the kinds whose provider has been created.
func (r *Registry) Active() []models.SourceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.SourceKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close closes every created provider exactly once. Close errors are
// logged and swallowed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	providers := r.providers
	r.providers = make(map[models.SourceKind]Provider)
	r.mu.Unlock()

	for kind, p := range providers {
		if err := p.Close(); err != nil {
			log.WithError(err).WithField("source", kind).Warn("failed to close extraction provider")
		}
	}
	return nil
}

func newTransient(msg string, cause error) error { return models.NewTransientError(msg, cause) }

func newFatal(msg string, cause error) error { return models.NewFatalError(msg, cause) }
