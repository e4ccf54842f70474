package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// ErrBadSignature is returned when a signature cannot be decoded or does not
// recover to a public key.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs API requests with a secp256k1 key using EIP-191 personal
// messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateKey creates a new random private key and returns it hex-encoded
// without the 0x prefix.
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Identity returns the signer's ledger identity.
func (s *Signer) Identity() domain.Identity {
	return domain.IdentityFromAddress(s.address)
}

// SignRequest signs the canonical request message for an HTTP call. See
// RequestMessage.
func (s *Signer) SignRequest(method, path string, timestamp int64, nonce string, body []byte) (string, error) {
	return s.SignMessage(RequestMessage(method, path, timestamp, nonce, body))
}

// SignMessage signs msg as an EIP-191 personal message and returns the
// 0x-prefixed 65-byte signature with v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(textHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RequestMessage builds the message covered by a request signature:
//
//	METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(keccak256(BODY))
//
// The nonce is single use per signer, so a captured request cannot be
// submitted twice.
func RequestMessage(method, path string, timestamp int64, nonce string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(ethcrypto.Keccak256(body)))
	return []byte(b.String())
}

// RecoverAddress returns the address whose key produced sigHex over msg.
// Both {0,1} and {27,28} recovery ids are accepted.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(textHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// textHash is keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg).
func textHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}
