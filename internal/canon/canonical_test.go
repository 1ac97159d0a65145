package canon

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...), which sorts before
	// U+FF21 in UTF-16 but after it in UTF-8.
	obj := map[string]any{
		"\uFF21":     int64(1),
		"\U0001F600": int64(2),
		"b":          int64(3),
		"a":          int64(4),
	}

	data, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":4,\"b\":3,\"\U0001F600\":2,\"\uFF21\":1}", string(data))
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	data, err := Marshal("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(data))
}

func TestMarshal_LineSeparators(t *testing.T) {
	data, err := Marshal("x\u2028y\u2029z")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\u2029z\"", string(data))

	data, err = Marshal(`\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(data))
}

func TestMarshal_NFC(t *testing.T) {
	decomposed := "e\u0301"
	data, err := Marshal(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshal_RejectsFloatAndNull(t *testing.T) {
	_, err := Marshal(map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = Marshal([]any{"ok", nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")

	var nilInt *big.Int
	_, err = Marshal(nilInt)
	require.Error(t, err)
}

func TestMarshal_Nested(t *testing.T) {
	v := map[string]any{
		"amount": big.NewInt(1_000_000),
		"steps":  []string{"bridge_burn", "bridge_mint"},
		"nonce":  uint64(7),
		"ok":     true,
		"events": []map[string]any{{"step": "bridge_burn", "tag": uint8(4)}},
	}

	data, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t,
		`{"amount":"1000000","events":[{"step":"bridge_burn","tag":4}],"nonce":7,"ok":true,"steps":["bridge_burn","bridge_mint"]}`,
		string(data))
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestHashWithDomain_Separates(t *testing.T) {
	a := HashWithDomain(DomainTrace, []byte("x"))
	b := HashWithDomain(DomainChainConfig, []byte("x"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashWithDomain(DomainTrace, []byte("x")))
}

func TestDigest_KeyOrderIndependent(t *testing.T) {
	d1, err := Digest(DomainChainConfig, map[string]any{"a": int64(1), "b": "two"})
	require.NoError(t, err)
	d2, err := Digest(DomainChainConfig, map[string]any{"b": "two", "a": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	_, err = Digest(DomainChainConfig, map[string]any{"a": 0.5})
	require.Error(t, err)
}
