package sl_test

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/regexgpt/regexgpt/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := fmt.Errorf("storage.GetPlan: %w", errors.New("connection refused"))
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("storage.GetPlan: connection refused"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.NotPanics(t, func() {
		attr := sl.Err(nil)
		assert.Equal(t, "error", attr.Key)
	})
}
