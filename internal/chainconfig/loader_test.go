package chainconfig

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

func TestLoadFile_YAML(t *testing.T) {
	chains, err := LoadFile("testdata/chains.yaml")
	require.NoError(t, err)
	require.Len(t, chains, 2)

	base := chains[1]
	assert.Equal(t, domain.ChainID(8453), base.ChainID)
	assert.Equal(t, uint16(7), base.Lending.ReferralCode)
	assert.Equal(t, uint32(6), base.Bridge.Domain)
	assert.Equal(t, "0x3000000000000000000000000000000000000003", base.Vault.VaultAddress)
}

func TestLoadFile_JSONDefaultsReferralCode(t *testing.T) {
	chains, err := LoadFile("testdata/chains.json")
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, domain.ChainID(42161), chains[0].ChainID)
	assert.Equal(t, uint16(0), chains[0].Lending.ReferralCode)
}

func TestLoadFile_CUE(t *testing.T) {
	chains, err := LoadFile("testdata/chains.cue")
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, domain.ChainID(10), chains[0].ChainID)
	assert.Equal(t, "0x28b5a0e9C621a5BadaA536219b3a228C8168cf5d", chains[0].Bridge.MessengerAddress)
}

func TestLoadFile_RejectsMalformedAddress(t *testing.T) {
	_, err := LoadFile("testdata/bad_address.yaml")
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.NotEmpty(t, ve.Message)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile("testdata/chains.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chain config extension")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty list", `chains: []`, "no chains defined"},
		{"zero chain id", `chains: [{chain_id: 0}]`, ""},
		{"unknown field", `chains: [{chain_id: 1, colour: "red"}]`, ""},
		{
			"duplicate",
			`{"chains": [` + chainJSON(5) + `,` + chainJSON(5) + `]}`,
			"duplicate chain_id 5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("inline.yaml", []byte(tt.doc), FormatYAML)
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestFingerprint_IgnoresAddressCase(t *testing.T) {
	chains, err := LoadFile("testdata/chains.yaml")
	require.NoError(t, err)

	a, err := Fingerprint(chains[0])
	require.NoError(t, err)

	lower := chains[0]
	lower.Lending.PoolAddress = "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2"
	b, err := Fingerprint(lower)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := Fingerprint(chains[1])
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestRegistry(t *testing.T) {
	chains, err := LoadFile("testdata/chains.yaml")
	require.NoError(t, err)

	reg, err := NewRegistry(chains[1], chains[0])
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := reg.IsSupported(ctx, 8453)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = reg.ChainConfig(ctx, 137)
	assert.ErrorIs(t, err, ErrNotConfigured)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, domain.ChainID(1), all[0].ChainID)

	_, err = NewRegistry(chains[0], chains[0])
	require.Error(t, err)
}

func chainJSON(id int) string {
	addr := `"0x1000000000000000000000000000000000000001"`
	return `{"chain_id": ` + strconv.Itoa(id) + `,
		"lending": {"asset": ` + addr + `, "on_behalf_of": ` + addr + `, "pool_address": ` + addr + `},
		"bridge": {"messenger_address": ` + addr + `, "transmitter_address": ` + addr + `, "token_address": ` + addr + `, "domain": 1},
		"vault": {"vault_address": ` + addr + `}}`
}
