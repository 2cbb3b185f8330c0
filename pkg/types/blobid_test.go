package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBlobID(t *testing.T) {
	// Expected values from `git hash-object --stdin`.
	tests := map[string]string{
		"":               "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391",
		"hello world":    "95d09f2b10159347eece71399a7e2e907ea3df4f",
		"test content\n": "d670460b4b4aece5915caf5c68d12f560a9fe3e4",
	}
	for content, want := range tests {
		id := ComputeBlobID([]byte(content))
		assert.Equal(t, want, id.Hex(), "content %q", content)
		assert.Equal(t, want, id.String())
		assert.Equal(t, want[:12], id.Short())
	}
}

func TestBlobID_IsZero(t *testing.T) {
	assert.True(t, BlobID{}.IsZero())
	assert.False(t, ComputeBlobID(nil).IsZero())
}

func TestParseBlobID(t *testing.T) {
	const name = "95d09f2b10159347eece71399a7e2e907ea3df4f"

	for _, in := range []string{name, "95D09F2B10159347EECE71399A7E2E907EA3DF4F", " " + name + "\n"} {
		id, err := ParseBlobID(in)
		require.NoError(t, err, in)
		assert.Equal(t, ComputeBlobID([]byte("hello world")), id)
	}

	for _, in := range []string{"", name[:7], name + "0", "zz" + name[2:]} {
		_, err := ParseBlobID(in)
		assert.Error(t, err, in)
	}
}

func TestBlobID_JSON(t *testing.T) {
	c := ScanCandidate{Path: "a.txt", ContentID: ComputeBlobID([]byte("hello world")), Size: 11}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"95d09f2b10159347eece71399a7e2e907ea3df4f"`)

	var back ScanCandidate
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)

	var id BlobID
	assert.Error(t, json.Unmarshal([]byte(`"invalid"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`123`), &id))
}
