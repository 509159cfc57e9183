package extract

import (
	"context"
	"errors"
	"testing"

	"harvest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	closed int
	doc    *models.ExtractedDocument
	err    error
}

func (s *stubProvider) Extract(ctx context.Context, req Request) (*models.ExtractedDocument, error) {
	return s.doc, s.err
}

func (s *stubProvider) Close() error {
	s.closed++
	return errors.New("close failed")
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(models.SourcePDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedSource)
	assert.ErrorIs(t, err, models.ErrExtractionFatal)
}

func TestRegistry_CreatesOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	stub := &stubProvider{}
	r.Register(models.SourceWeb, func() (Provider, error) {
		calls++
		return stub, nil
	})

	assert.Empty(t, r.Active())
	p1, err := r.Get(models.SourceWeb)
	require.NoError(t, err)
	p2, err := r.Get(models.SourceWeb)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []models.SourceKind{models.SourceWeb}, r.Active())
	assert.Equal(t, []models.SourceKind{models.SourceWeb}, r.Kinds())
}

func TestRegistry_FactoryErrorIsFatal(t *testing.T) {
	r := NewRegistry()
	r.Register(models.SourceSocial, func() (Provider, error) {
		return nil, errors.New("apify token is not configured")
	})
	_, err := r.Get(models.SourceSocial)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExtractionFatal)
	assert.Contains(t, err.Error(), "initialize social provider")
}

func TestRegistry_CloseOnce(t *testing.T) {
	r := NewRegistry()
	stub := &stubProvider{}
	r.Register(models.SourceWeb, func() (Provider, error) { return stub, nil })
	_, err := r.Get(models.SourceWeb)
	require.NoError(t, err)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.Equal(t, 1, stub.closed)

	_, err = r.Get(models.SourceWeb)
	assert.ErrorIs(t, err, models.ErrExtractionFatal)
}
