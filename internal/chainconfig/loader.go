// Package chainconfig loads and validates per-chain address books.
//
// Files may be written in CUE, YAML or JSON. Every document is unified with
// the embedded schema (schema.cue) before it is decoded, so malformed
// addresses and out-of-range numbers are rejected with a source position
// instead of surfacing later as a transaction build failure.
//
// A file holds a list of chains:
//
//	chains:
//	  - chain_id: 8453
//	    lending: {asset: "0x...", on_behalf_of: "0x...", pool_address: "0x..."}
//	    bridge: {messenger_address: "0x...", transmitter_address: "0x...", token_address: "0x...", domain: 6}
//	    vault: {vault_address: "0x..."}
package chainconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/Rebalancy/agent-contracts/internal/canon"
	"github.com/Rebalancy/agent-contracts/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// ErrNotConfigured is returned when a chain has no stored configuration.
var ErrNotConfigured = errors.New("chain not configured")

// Format names a chain configuration file syntax.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the file format from its extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported chain config extension %q", filepath.Ext(path))
	}
}

// ValidationError reports a schema violation with its source position.
type ValidationError struct {
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadFile reads, validates and decodes a chain configuration file.
func LoadFile(path string) ([]domain.ChainConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain config: %w", err)
	}
	return Parse(filepath.Base(path), data, format)
}

// Parse validates data against the schema and decodes it.
// Duplicate chain IDs within one document are rejected.
func Parse(name string, data []byte, format Format) ([]domain.ChainConfig, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var doc cue.Value
	switch format {
	case FormatCUE:
		doc = ctx.CompileBytes(data, cue.Filename(name))
	case FormatYAML, FormatJSON:
		// yaml.v3 accepts JSON as well.
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if raw == nil {
			return nil, fmt.Errorf("parse %s: empty document", name)
		}
		doc = ctx.Encode(raw)
	default:
		return nil, fmt.Errorf("unsupported chain config format %q", format)
	}
	if err := doc.Err(); err != nil {
		return nil, positioned(err)
	}

	v := schema.LookupPath(cue.ParsePath("#File")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, positioned(err)
	}

	var file struct {
		Chains []domain.ChainConfig `json:"chains"`
	}
	if err := v.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("%s: no chains defined", name)
	}

	seen := make(map[domain.ChainID]bool, len(file.Chains))
	for _, c := range file.Chains {
		if seen[c.ChainID] {
			return nil, fmt.Errorf("%s: duplicate chain_id %d", name, c.ChainID)
		}
		seen[c.ChainID] = true
	}
	return file.Chains, nil
}

// positioned keeps the first CUE error and its position.
func positioned(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	ve := &ValidationError{Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}

// Fingerprint is a stable digest of a chain configuration.
func Fingerprint(c domain.ChainConfig) (string, error) {
	return canon.Digest(canon.DomainChainConfig, map[string]any{
		"chain_id": uint64(c.ChainID),
		"lending": map[string]any{
			"asset":         strings.ToLower(c.Lending.Asset),
			"on_behalf_of":  strings.ToLower(c.Lending.OnBehalfOf),
			"referral_code": c.Lending.ReferralCode,
			"pool_address":  strings.ToLower(c.Lending.PoolAddress),
		},
		"bridge": map[string]any{
			"messenger_address":   strings.ToLower(c.Bridge.MessengerAddress),
			"transmitter_address": strings.ToLower(c.Bridge.TransmitterAddress),
			"token_address":       strings.ToLower(c.Bridge.TokenAddress),
			"domain":              c.Bridge.Domain,
		},
		"vault": map[string]any{
			"vault_address": strings.ToLower(c.Vault.VaultAddress),
		},
	})
}
