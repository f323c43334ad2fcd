package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-works/cortex/pkg/intent"
)

func noopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext) (*HandlerResult, error) {
		return &HandlerResult{}, nil
	})
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ingest_file", noopHandler()))

	handlers, err := r.Resolve("ingest_file")
	require.NoError(t, err)
	assert.Len(t, handlers, 1)
}

func TestResolveUnknownType(t *testing.T) {
	r := New()
	_, err := r.Resolve("nonexistent")
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.Contains(t, err.Error(), "no handler")
}

func TestRegisterMultipleHandlers(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ingest_file", noopHandler()))
	require.NoError(t, r.Register("ingest_file", noopHandler()))

	handlers, err := r.Resolve("ingest_file")
	require.NoError(t, err)
	assert.Len(t, handlers, 2)
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register("", noopHandler()), ErrEmptyIntent)
	assert.ErrorIs(t, r.Register("x", nil), ErrNilHandler)
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("ingest_file", noopHandler()))
	r.Unregister("ingest_file")
	_, err := r.Resolve("ingest_file")
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestValidateParamsWithSchema(t *testing.T) {
	r := New()
	schema := []byte(`{
		"type": "object",
		"required": ["ui_name"],
		"properties": {
			"ui_name": {"type": "string", "minLength": 1}
		}
	}`)
	require.NoError(t, r.RegisterSchema("ingest_file", schema))

	assert.NoError(t, r.ValidateParams("ingest_file", map[string]interface{}{"ui_name": "a.csv"}))

	err := r.ValidateParams("ingest_file", map[string]interface{}{"size": 12})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestValidateParamsWithoutSchemaPasses(t *testing.T) {
	r := New()
	assert.NoError(t, r.ValidateParams("anything", map[string]interface{}{"free": "form"}))
}

func TestRegisterSchemaRejectsBadSchema(t *testing.T) {
	r := New()
	err := r.RegisterSchema("ingest_file", []byte(`{"type": 12}`))
	assert.Error(t, err)
}

func TestListTypes(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a", noopHandler()))
	require.NoError(t, r.Register("b", noopHandler()))
	assert.ElementsMatch(t, []string{"a", "b"}, r.List())
}
