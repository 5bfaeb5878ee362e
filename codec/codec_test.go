package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONWireFormat(t *testing.T) {
	out, err := JSON.Marshal(StorageValue{State: map[string]any{"count": 42}, Version: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":{"count":42},"version":12}`, out)

	v, err := JSON.Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, 12, v.Version)
	assert.Equal(t, map[string]any{"count": float64(42)}, v.State)
}

func TestCodecsRoundTrip(t *testing.T) {
	codecs := map[string]Codec{"json": JSON, "yaml": YAML, "toml": TOML}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			in := StorageValue{
				State:   map[string]any{"name": "ada", "tags": []any{"a", "b"}},
				Version: 3,
			}

			text, err := c.Marshal(in)
			require.NoError(t, err)

			out, err := c.Unmarshal(text)
			require.NoError(t, err)
			assert.Equal(t, 3, out.Version)

			state, ok := out.State.(map[string]any)
			require.True(t, ok, "state decoded as %T", out.State)
			assert.Equal(t, "ada", state["name"])
			assert.Len(t, state["tags"], 2)
		})
	}
}

func TestUnmarshalErrors(t *testing.T) {
	for name, c := range map[string]Codec{"json": JSON, "yaml": YAML, "toml": TOML} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Unmarshal("{{ not valid")
			assert.Error(t, err)
		})
	}
}

func TestFuncs(t *testing.T) {
	c := Funcs{
		MarshalFunc: func(v StorageValue) (string, error) { return "fixed", nil },
		UnmarshalFunc: func(string) (StorageValue, error) {
			return StorageValue{Version: 9}, nil
		},
	}

	out, err := c.Marshal(StorageValue{})
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)

	v, err := c.Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, 9, v.Version)
}

func TestLookup(t *testing.T) {
	for name, want := range map[string]Codec{"": JSON, "JSON": JSON, "yml": YAML, " toml ": TOML} {
		got, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := Lookup("xml")
	assert.ErrorContains(t, err, `unknown codec "xml"`)
}
