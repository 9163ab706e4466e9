package solana

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Token program id, a real on-chain address.
const tokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(WSOLMint))
	assert.NoError(t, ValidateAddress(tokenProgram))

	for _, bad := range []string{"", "not-base58-0OIl", "abc"} {
		assert.ErrorIs(t, ValidateAddress(bad), ErrInvalidAddress, bad)
	}
}

func TestDerivePDA_IsOffCurve(t *testing.T) {
	pda, err := DerivePDA([][]byte{[]byte("metadata"), []byte("seed")}, tokenProgram)
	require.NoError(t, err)
	require.NoError(t, ValidateAddress(pda))
	assert.False(t, IsOnCurve(pda))

	again, err := DerivePDA([][]byte{[]byte("metadata"), []byte("seed")}, tokenProgram)
	require.NoError(t, err)
	assert.Equal(t, pda, again, "derivation should be deterministic")
}

func TestIsOnCurve_InvalidInput(t *testing.T) {
	assert.False(t, IsOnCurve(""))
	assert.False(t, IsOnCurve("abc"))
}

func TestIsOnCurve_BasePoint(t *testing.T) {
	// Compressed ed25519 base point.
	b := make([]byte, 32)
	b[0] = 0x58
	for i := 1; i < 32; i++ {
		b[i] = 0x66
	}
	assert.True(t, IsOnCurve(base58.Encode(b)))
}
