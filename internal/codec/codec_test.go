package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
}

type widgetV2 struct {
	Name  string `msgpack:"name"`
	Count int    `msgpack:"count"`
	Tag   string `msgpack:"tag"`
}

func TestRoundTrip(t *testing.T) {
	in := widget{Name: "wasm-module", Count: 3}

	data, err := Encode(in)
	require.NoError(t, err)

	var out widget
	require.NoError(t, Decode(data, &out))

	assert.Equal(t, in, out)
}

func TestForwardCompatibility(t *testing.T) {
	// Encoding a newer schema and decoding into an older one drops the
	// unknown field instead of failing.
	data, err := Encode(widgetV2{Name: "a", Count: 1, Tag: "extra"})
	require.NoError(t, err)

	var old widget
	require.NoError(t, Decode(data, &old))
	assert.Equal(t, widget{Name: "a", Count: 1}, old)
}

func TestMissingOptionalFieldZeroValue(t *testing.T) {
	// Decoding an older schema into a newer one zero-fills the field that
	// was never written.
	data, err := Encode(widget{Name: "b", Count: 2})
	require.NoError(t, err)

	var next widgetV2
	require.NoError(t, Decode(data, &next))
	assert.Equal(t, "", next.Tag)
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	data, err := Encode(widget{Name: "c", Count: 5})
	require.NoError(t, err)

	var out widget
	err = Decode(data[:len(data)-2], &out)
	require.Error(t, err)

	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, "decode", codecErr.Op)
}
