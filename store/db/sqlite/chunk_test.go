package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.25, 0, 1e-7}

	blob := float32ArrayToBLOB(vec)
	assert.Len(t, blob, len(vec)*4)

	got, err := blobToFloat32Array(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestBlobToFloat32Array_RejectsTruncatedBlob(t *testing.T) {
	_, err := blobToFloat32Array([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		assert.InDelta(t, 1.0, float64(cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})), 1e-6)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, float64(cosineSimilarity([]float32{1, 0}, []float32{0, 1})), 1e-6)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, float64(cosineSimilarity([]float32{1, 0}, []float32{-1, 0})), 1e-6)
	})

	t.Run("mismatched lengths score zero", func(t *testing.T) {
		assert.Equal(t, float32(0), cosineSimilarity([]float32{1, 0}, []float32{1}))
	})

	t.Run("zero vector scores zero", func(t *testing.T) {
		assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})
}
