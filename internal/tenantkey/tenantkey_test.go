package tenantkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantapi/internal/apperr"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"plain word", "tenant1", true},
		{"underscores", "acme_corp", true},
		{"digits only", "42", true},
		{"empty", "", false},
		{"dash", "acme-corp", false},
		{"dot", "acme.corp", false},
		{"sql injection", "x;DROP DATABASE", false},
		{"space", "acme corp", false},
		{"slash", "a/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Sanitize(tt.raw)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.raw, key)
			} else {
				require.Error(t, err)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			}
		})
	}
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "acmedb", DatabaseName("acme"))
	assert.Equal(t, "tenant_1db", DatabaseName("tenant_1"))
}

func TestFromBearerLoose(t *testing.T) {
	owner, err := FromBearer("Bearer V1StGXR8_Z5j", false)
	require.NoError(t, err)
	assert.Equal(t, "V1StGXR8_Z5j", owner)

	// The Bearer prefix is optional.
	owner, err = FromBearer("V1StGXR8_Z5j", false)
	require.NoError(t, err)
	assert.Equal(t, "V1StGXR8_Z5j", owner)

	_, err = FromBearer("", false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = FromBearer("Bearer token with spaces", false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestFromBearerStrict(t *testing.T) {
	owner, err := FromBearer("Bearer 1b4e28ba-2fa1-11d2-883f-0016d3cca427", true)
	require.NoError(t, err)
	assert.Equal(t, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", owner)

	_, err = FromBearer("Bearer not-a-uuid", true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
