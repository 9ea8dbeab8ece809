package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeResponse_RoundTrips(t *testing.T) {
	original := CachedResponse{StatusCode: 202, Payload: []byte(`{"ok":true}`), ContentType: "application/json"}

	encoded, err := encodeResponse(original)
	require.NoError(t, err)

	decoded, err := decodeResponse(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeResponse_RejectsMalformedJSON(t *testing.T) {
	_, err := decodeResponse("not json")
	assert.Error(t, err)
}
