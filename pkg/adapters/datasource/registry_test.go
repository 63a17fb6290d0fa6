package datasource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/new-bakery/nga/pkg/apperrors"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	require.NoError(t, r.Register(&completeSourceType{name: "postgres"}))
	require.NoError(t, r.Register(&completeSourceType{name: "sqlserver"}))

	st, err := r.Lookup("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", st.Describe().Type)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "postgres", list[0].Describe().Type)
	assert.Equal(t, "sqlserver", list[1].Describe().Type)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, err := r.Lookup("oracle")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(&completeSourceType{name: "postgres"}))

	err := r.Register(&completeSourceType{name: "postgres"})
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestRegistry_RegisterRejectsNilAndUnnamed(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var nilType *completeSourceType
	assert.True(t, errors.Is(r.Register(nilType), apperrors.ErrConfiguration))
	assert.True(t, errors.Is(r.Register(&completeSourceType{name: "  "}), apperrors.ErrConfiguration))
	assert.Empty(t, r.List())
}

func TestRegistry_CandidateMissingPreviewIsSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRegistry(zap.New(core))

	accepted := r.RegisterCandidate("partial", &previewlessSourceType{})

	assert.False(t, accepted)
	_, err := r.Lookup("partial")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	entries := logs.FilterMessage("skipping source type candidate missing capabilities").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "partial", entries[0].ContextMap()["candidate"])
}

func TestRegistry_Discover(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	accepted := r.Discover(map[string]any{
		"b_complete": &completeSourceType{name: "b"},
		"a_complete": &completeSourceType{name: "a"},
		"partial":    &previewlessSourceType{},
		"junk":       "not a source type",
		"nil":        nil,
	})

	assert.Equal(t, 2, accepted)
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Describe().Type)
	assert.Equal(t, "b", list[1].Describe().Type)
}

func TestMissingCapabilities(t *testing.T) {
	assert.Empty(t, MissingCapabilities(&completeSourceType{}))
	assert.Equal(t, []string{"PreviewData"}, MissingCapabilities(&previewlessSourceType{}))
	assert.Len(t, MissingCapabilities(nil), sourceTypeInterface.NumMethod())
}
