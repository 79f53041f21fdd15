package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type selectRequest struct {
	ResourceKey  string `validate:"required_without=ConnectionID,max=256"`
	ConnectionID string `validate:"omitempty,uuid"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid by resource key", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&selectRequest{ResourceKey: "proj1"}))
	})

	t.Run("valid by connection id", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&selectRequest{ConnectionID: "6f1c2a4e-8d1b-4c55-9a0f-3b7e2d9c1a10"}))
	})

	t.Run("neither field", func(t *testing.T) {
		err := ValidateStruct(&selectRequest{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, GetValidationFields(err), "ResourceKey")
	})

	t.Run("malformed connection id", func(t *testing.T) {
		err := ValidateStruct(&selectRequest{ConnectionID: "conn-1"})
		require.Error(t, err)
		assert.Equal(t, "ConnectionID must be a valid UUID", GetValidationFields(err)["ConnectionID"])
	})

	t.Run("resource key too long", func(t *testing.T) {
		long := make([]byte, 300)
		for i := range long {
			long[i] = 'k'
		}
		err := ValidateStruct(&selectRequest{ResourceKey: string(long)})
		require.Error(t, err)
		assert.Equal(t, "ResourceKey must be at most 256", GetValidationFields(err)["ResourceKey"])
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields:  map[string]string{"field1": "error1"},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{"field1": "error1"}
		err := &ValidationError{Message: "test", Fields: fields}

		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.False(t, IsValidationError(assert.AnError))
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}
