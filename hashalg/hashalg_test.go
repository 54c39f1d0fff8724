package hashalg_test

import (
	"testing"

	"github.com/effective-security/p11mac/hashalg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Length(t *testing.T) {
	tcases := []struct {
		alg hashalg.Algorithm
		len int
	}{
		{hashalg.SHA256, 32},
		{hashalg.SHA384, 48},
		{hashalg.SHA512, 64},
		{hashalg.SHA3_256, 32},
		{hashalg.SHA3_384, 48},
		{hashalg.SHA3_512, 64},
	}
	for _, tc := range tcases {
		t.Run(tc.alg.String(), func(t *testing.T) {
			l, err := tc.alg.Length()
			require.NoError(t, err)
			assert.Equal(t, tc.len, l)
		})
	}

	_, err := hashalg.Algorithm(0).Length()
	assert.EqualError(t, err, "unknown hash algorithm: 0")
}

func Test_New(t *testing.T) {
	for _, alg := range []hashalg.Algorithm{
		hashalg.SHA256,
		hashalg.SHA384,
		hashalg.SHA512,
		hashalg.SHA3_256,
		hashalg.SHA3_384,
		hashalg.SHA3_512,
	} {
		h, err := alg.New()
		require.NoError(t, err, alg.String())

		expected, err := alg.Length()
		require.NoError(t, err)
		assert.Equal(t, expected, h.Size(), alg.String())
	}

	_, err := hashalg.Algorithm(42).New()
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", hashalg.Algorithm(42).String())
}
