package pairs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifiedJWTBlob is a host-encoded metadata blob carrying a verified JWT's
// claims, captured from a live proxy. Numeric claims are raw float64 bytes.
var verifiedJWTBlob = []byte{
	0x03, 0x00, 0x00, 0x00, // 3 pairs
	0x03, 0x00, 0x00, 0x00, // key len 3
	0x04, 0x00, 0x00, 0x00, // val len 4
	0x03, 0x00, 0x00, 0x00, // key len 3
	0x04, 0x00, 0x00, 0x00, // val len 4
	0x03, 0x00, 0x00, 0x00, // key len 3
	0x02, 0x00, 0x00, 0x00, // val len 2
	'a', 'z', 'p', 0x00,
	't', 'e', 's', 't', 0x00,
	'a', 'u', 'd', 0x00,
	't', 'e', 's', 't', 0x00,
	't', 'y', 'p', 0x00,
	'I', 'D', 0x00,
}

func TestDecodeFixture(t *testing.T) {
	got, err := Decode(verifiedJWTBlob)
	require.NoError(t, err)

	want := Pairs{
		{Key: "azp", Value: "test"},
		{Key: "aud", Value: "test"},
		{Key: "typ", Value: "ID"},
	}
	assert.Equal(t, want, got)

	azp, ok := got.Get("azp")
	require.True(t, ok)
	assert.Equal(t, "test", azp)

	_, ok = got.Get("missing")
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		pairs Pairs
	}{
		{name: "empty", pairs: Pairs{}},
		{name: "single", pairs: Pairs{{Key: "k", Value: "v"}}},
		{name: "empty key and value", pairs: Pairs{{Key: "", Value: ""}, {Key: "x", Value: ""}}},
		{
			name: "several",
			pairs: Pairs{
				{Key: "iss", Value: "https://keycloak:8443/auth/realms/master"},
				{Key: "azp", Value: "test"},
				{Key: "preferred_username", Value: "admin"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.pairs)
			require.NoError(t, err)

			required, ok := RequiredLength(tc.pairs)
			require.True(t, ok)
			assert.Len(t, buf, required)

			got, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.pairs, got)
		})
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	t.Run("shorter than count word", func(t *testing.T) {
		_, err := Decode([]byte{0x01})
		var lerr *LengthError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, 3, lerr.Required)
	})

	t.Run("shorter than headers", func(t *testing.T) {
		// Claims 2 pairs but provides no headers: needs
		// 2*(8 header + 2 NUL) = 20 more bytes.
		_, err := Decode([]byte{0x02, 0x00, 0x00, 0x00})
		var lerr *LengthError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, 20, lerr.Required)
	})

	t.Run("shorter than data", func(t *testing.T) {
		full, err := Encode(Pairs{{Key: "key", Value: "value"}})
		require.NoError(t, err)

		for cut := 1; cut < 8; cut++ {
			_, err := Decode(full[:len(full)-cut])
			var lerr *LengthError
			require.ErrorAs(t, err, &lerr, "cut %d", cut)
			assert.Equal(t, cut, lerr.Required, "cut %d", cut)
		}
	})

	t.Run("hostile count overflows requirement", func(t *testing.T) {
		_, err := Decode([]byte{0xff, 0xff, 0xff, 0xff})
		var lerr *LengthError
		require.ErrorAs(t, err, &lerr)
		// Not impossible on 64-bit, but far beyond the buffer. The
		// parser must not walk past the buffer either way.
		assert.Greater(t, lerr.Required, 0)
	})
}

func TestEncodeToShortBuffer(t *testing.T) {
	p := Pairs{{Key: "abc", Value: "defg"}}
	required, ok := RequiredLength(p)
	require.True(t, ok)

	buf := make([]byte, required-5)
	_, err := EncodeTo(p, buf)
	var lerr *LengthError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 5, lerr.Required)

	// Exactly sized buffer succeeds.
	buf = make([]byte, required)
	n, err := EncodeTo(p, buf)
	require.NoError(t, err)
	assert.Equal(t, required, n)
}

func TestLengthErrorMessage(t *testing.T) {
	err := error(&LengthError{Required: 7})
	assert.Contains(t, err.Error(), "7")
	assert.False(t, errors.Is(err, &LengthError{Required: 8}))
}
