package blocksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlobRoundTrip(t *testing.T) {
	content := []byte("hello, world")

	id, encoded := EncodeBlob(content)
	require.False(t, id.IsZero())

	kind, tree, body, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, KindBlob, kind)
	assert.Nil(t, tree)
	assert.Equal(t, content, body)
}

func TestEncodeBlobEmpty(t *testing.T) {
	id, encoded := EncodeBlob(nil)
	require.False(t, id.IsZero())

	kind, _, body, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, KindBlob, kind)
	assert.Empty(t, body)
}

func TestEncodeTreeCanonical(t *testing.T) {
	a, _ := EncodeBlob([]byte("a"))
	b, _ := EncodeBlob([]byte("b"))

	id1, _ := EncodeTree(Tree{{Name: "x", ID: a}, {Name: "y", ID: b}})
	id2, _ := EncodeTree(Tree{{Name: "y", ID: b}, {Name: "x", ID: a}})

	assert.Equal(t, id1, id2, "entry order must not affect the digest")

	id3, _ := EncodeTree(Tree{{Name: "x", ID: b}, {Name: "y", ID: a}})
	assert.NotEqual(t, id1, id3, "different bindings must differ")
}

func TestEncodeTreeRoundTrip(t *testing.T) {
	a, _ := EncodeBlob([]byte("a"))
	b, _ := EncodeBlob([]byte("b"))

	in := Tree{{Name: "beta", ID: b}, {Name: "alpha", ID: a}}
	id, encoded := EncodeTree(in)
	require.False(t, id.IsZero())

	kind, tree, _, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, KindTree, kind)
	require.Len(t, tree, 2)

	// decoded order is the canonical (sorted) order
	assert.Equal(t, "alpha", tree[0].Name)
	assert.Equal(t, a, tree[0].ID)
	assert.Equal(t, "beta", tree[1].Name)
	assert.Equal(t, b, tree[1].ID)
}

func TestEncodeTreeDuplicateEntries(t *testing.T) {
	a, _ := EncodeBlob([]byte("shared"))

	_, encoded := EncodeTree(Tree{{Name: "one", ID: a}, {Name: "two", ID: a}})

	_, tree, _, err := Decode(encoded)
	require.NoError(t, err)
	require.Len(t, tree, 2, "duplicate child references must survive encoding")
	assert.Equal(t, a, tree[0].ID)
	assert.Equal(t, a, tree[1].ID)
}

func TestEncodeTreeEmpty(t *testing.T) {
	id, encoded := EncodeTree(nil)
	require.False(t, id.IsZero())

	kind, tree, _, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, KindTree, kind)
	assert.Empty(t, tree)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, _, err := Decode([]byte("no header terminator here"))
	assert.Error(t, err)

	_, _, _, err = Decode([]byte("commit 4\x00data"))
	assert.Error(t, err)
}
