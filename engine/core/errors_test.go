package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/examforge/examforge/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	t.Run("Should match ErrValidation through wrapping", func(t *testing.T) {
		err := fmt.Errorf("submit: %w", core.NewValidationError("counts", "must be positive"))
		assert.ErrorIs(t, err, core.ErrValidation)
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "counts", verr.Field)
		assert.Equal(t, "submit: counts: must be positive", err.Error())
	})
}

func TestRequireNonBlank(t *testing.T) {
	t.Run("Should name the first blank field", func(t *testing.T) {
		err := core.RequireNonBlank("topic", "travel", "source_document", "  ", "segment_tag", "")
		require.Error(t, err)
		assert.Equal(t, "source_document: must not be blank", err.Error())
	})
	t.Run("Should pass when all values are present", func(t *testing.T) {
		assert.NoError(t, core.RequireNonBlank("topic", "travel", "segment_tag", "1reading"))
	})
}
