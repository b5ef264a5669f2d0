package validator_test

import (
	"context"
	"testing"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/abdoElHodaky/eventcore/adapters/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profileCreate struct {
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age" validate:"gte=0,lte=130"`
}

func TestValidator_UnregisteredEventTypePasses(t *testing.T) {
	v := validator.New()
	err := v.Validate(context.Background(), "profile.create", map[string]interface{}{})
	assert.NoError(t, err)
}

func TestValidator_RegisteredSchemaRejectsMissingRequiredField(t *testing.T) {
	v := validator.New()
	v.Register("profile.create", profileCreate{})

	err := v.Validate(context.Background(), "profile.create", map[string]interface{}{"age": 30})
	require.Error(t, err)
	kind, ok := es.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, es.KindInvalidInput, kind)
}

func TestValidator_RegisteredSchemaAcceptsValidPayload(t *testing.T) {
	v := validator.New()
	v.Register("profile.create", profileCreate{})

	err := v.Validate(context.Background(), "profile.create", map[string]interface{}{"name": "Ada", "age": 30})
	assert.NoError(t, err)
}

func TestValidator_RegisteredSchemaRejectsOutOfRangeField(t *testing.T) {
	v := validator.New()
	v.Register("profile.create", profileCreate{})

	err := v.Validate(context.Background(), "profile.create", map[string]interface{}{"name": "Ada", "age": 999})
	require.Error(t, err)
}
