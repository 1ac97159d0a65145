package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/gate"
)

func TestError_Format(t *testing.T) {
	err := newError(CodeWrongStepOrder, "expected bridge_burn").at(3, domain.BridgeMint)
	assert.Equal(t, "WRONG_STEP_ORDER: expected bridge_burn (nonce=3, step=bridge_mint)", err.Error())

	cause := errors.New("no route to signer")
	err = newError(CodeSignerFailed, "signer request failed").wrap(cause)
	assert.Equal(t, "SIGNER_FAILED: signer request failed: no route to signer", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("request step: %w", newError(CodeChainMismatch, "wrong chain"))

	assert.ErrorIs(t, err, ErrChainMismatch)
	assert.NotErrorIs(t, err, ErrChainNotConfigured)
}

func TestError_Details(t *testing.T) {
	err := newError(CodeSignatureAlreadyCached, "cached").with("payload_hash", "0xab").with("step", "bridge_burn")
	assert.Equal(t, map[string]string{"payload_hash": "0xab", "step": "bridge_burn"}, err.Details)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "UNKNOWN_REQUEST", CodeOf(newError(CodeUnknownRequest, "x")))
	assert.Equal(t, "UNAPPROVED_CODE_IDENTITY", CodeOf(fmt.Errorf("wrapped: %w", gate.ErrUnapprovedCodeIdentity)))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
