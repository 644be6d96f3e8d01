package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddingIDDeterministic(t *testing.T) {
	a := EmbeddingID("Alice", 42)
	b := EmbeddingID("Alice", 42)
	assert.Equal(t, a, b)

	// Valid UUID shape.
	assert.Len(t, a, 36)
}

func TestEmbeddingIDDistinguishesInputs(t *testing.T) {
	assert.NotEqual(t, EmbeddingID("Alice", 1), EmbeddingID("Alice", 2))
	assert.NotEqual(t, EmbeddingID("Alice", 1), EmbeddingID("Bob", 1))

	// Separator keeps "a"+"1_2" distinct from "a_1"+"2".
	assert.NotEqual(t, EmbeddingID("a", 12), EmbeddingID("a_1", 2))
}
