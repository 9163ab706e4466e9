package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// WSOLMint is the wrapped SOL mint.
const WSOLMint = "So11111111111111111111111111111111111111112"

// ErrInvalidAddress is returned for strings that are not 32-byte base58 keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that s is a base58-encoded 32-byte public key.
func ValidateAddress(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(decoded))
	}
	return nil
}

// IsOnCurve reports whether address decodes to a point on the ed25519 curve.
// Wallets are on-curve; program derived addresses are not.
func IsOnCurve(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}

// DerivePDA finds the program derived address for seeds under programID,
// trying bump seeds from 255 down.
func DerivePDA(seeds [][]byte, programID string) (string, error) {
	program, err := base58.Decode(programID)
	if err != nil || len(program) != 32 {
		return "", fmt.Errorf("%w: program id", ErrInvalidAddress)
	}

	for bump := 255; bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if _, err := new(edwards25519.Point).SetBytes(hash[:]); err != nil {
			return base58.Encode(hash[:]), nil
		}
	}
	return "", errors.New("no viable bump seed")
}
