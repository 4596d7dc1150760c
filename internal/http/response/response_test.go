package response

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBodies(t *testing.T) {
	tests := []struct {
		name string
		body ErrorResponse
		want string
	}{
		{name: "plain", body: Error("Input is required"), want: `{"status":"Error","error":"Input is required"}`},
		{name: "quota", body: QuotaError("Daily limit reached", true), want: `{"status":"Error","error":"Daily limit reached","upgrade":true}`},
		{name: "auth", body: AuthRequired("Sign in"), want: `{"status":"Error","error":"Sign in","requires_auth":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.body)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestStatusOKWithData(t *testing.T) {
	raw, err := json.Marshal(StatusOKWithData(map[string]string{"url": "https://x"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"OK","data":{"url":"https://x"}}`, string(raw))
}

func TestValidationError(t *testing.T) {
	type req struct {
		Input string `validate:"required"`
		Limit string `validate:"max=3"`
	}
	err := validator.New().Struct(req{Limit: "12345"})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "field Input is a required field, field Limit must be at most 3 characters", resp.Error)
}
