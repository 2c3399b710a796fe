package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

func TestIsPhone(t *testing.T) {
	assert.True(t, IsPhone("+15550001111"))
	assert.True(t, IsPhone("+1 (555) 000-1111"))
	assert.False(t, IsPhone("5550001111"))
	assert.False(t, IsPhone("+123"))
	assert.False(t, IsPhone("+1234567890123456"))
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Email: "nope", Phone: "12"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'email' failed 'email'")
	assert.Contains(t, err.Error(), "field 'phone' failed 'phone'")

	assert.NoError(t, Struct(sample{Phone: "+44 20 7946 0958"}))
	assert.NoError(t, Struct(&sample{}))
}
