package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a ledger account identity: an EIP-55 checksummed hex address.
// Two identities are equal iff their string forms are equal.
type Identity string

// ParseIdentity validates s as a hex address and returns its checksummed form.
func ParseIdentity(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity(common.HexToAddress(s).Hex()), nil
}

// MustIdentity is ParseIdentity for constants and tests. It panics on error.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IdentityFromAddress converts an address to an Identity.
func IdentityFromAddress(addr common.Address) Identity {
	return Identity(addr.Hex())
}

// DeriveCustodyIdentity derives a keyless custody identity from a namespace
// and seed: the last 20 bytes of keccak256(namespace || seed).
func DeriveCustodyIdentity(namespace, seed string) Identity {
	hash := crypto.Keccak256([]byte(namespace), []byte(seed))
	return IdentityFromAddress(common.BytesToAddress(hash))
}

// Address returns the identity as an address.
func (i Identity) Address() common.Address {
	return common.HexToAddress(string(i))
}

// IsZero reports whether the identity is empty or the zero address.
func (i Identity) IsZero() bool {
	return i == "" || i.Address() == (common.Address{})
}

func (i Identity) String() string { return string(i) }

// PoolNamespace is the derivation namespace of the reward pool identity.
const PoolNamespace = "vault-authority"

// PoolIdentity returns the reward pool custody identity for seed.
func PoolIdentity(seed string) Identity {
	return DeriveCustodyIdentity(PoolNamespace, seed)
}
