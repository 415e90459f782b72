package aa

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// packForHash encodes the operation's fixed fields into a flat byte string.
// Variable-length fields (InitCode, CallData, PaymasterAndData) are
// pre-hashed so the packed form has a fixed layout. Signature is excluded.
func packForHash(op *UserOperation) []byte {
	buf := make([]byte, 0, 11*32)
	buf = appendAddress(buf, op.Sender)
	buf = appendUint64(buf, op.NonceKey)
	buf = appendUint64(buf, op.Nonce)
	buf = append(buf, ethcrypto.Keccak256(op.InitCode)...)
	buf = append(buf, ethcrypto.Keccak256(op.CallData)...)
	buf = appendUint64(buf, op.CallGasLimit)
	buf = appendUint64(buf, op.VerificationGasLimit)
	buf = appendUint64(buf, op.PreVerificationGas)
	buf = appendUint64(buf, op.MaxFeePerGas)
	buf = appendUint64(buf, op.MaxPriorityFeePerGas)
	buf = append(buf, ethcrypto.Keccak256(op.PaymasterAndData)...)
	return buf
}

// appendUint64 writes v as a 32-byte big-endian word.
func appendUint64(buf []byte, v uint64) []byte {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], v)
	return append(buf, word[:]...)
}

// appendAddress writes a 0x address left-padded to a 32-byte word.
func appendAddress(buf []byte, addr string) []byte {
	var word [32]byte
	copy(word[12:], common.HexToAddress(addr).Bytes())
	return append(buf, word[:]...)
}

// Hash computes the canonical operation hash, domain-separated by the
// entry-point address and chain id so a signature cannot be replayed
// against another dispatcher or network. Two stages: keccak over the packed
// fixed fields, then keccak over that digest with the domain values. Both
// domain values are keccak'd as raw strings; parsing them as addresses
// would collapse any malformed input to the zero address.
func Hash(op *UserOperation, entryPoint, chainID string) common.Hash {
	inner := ethcrypto.Keccak256(packForHash(op))

	outer := make([]byte, 0, 3*32)
	outer = append(outer, inner...)
	outer = append(outer, ethcrypto.Keccak256([]byte(entryPoint))...)
	outer = append(outer, ethcrypto.Keccak256([]byte(chainID))...)
	return common.BytesToHash(ethcrypto.Keccak256(outer))
}

// SignOp signs the operation with the owner key and stores the 65-byte
// signature on the operation. The hash is wrapped as a personal message
// before signing, matching what RecoverSigner expects.
func SignOp(op *UserOperation, key *ecdsa.PrivateKey, entryPoint, chainID string) error {
	if key == nil {
		return errors.New("no signer key")
	}
	digest := accounts.TextHash(Hash(op, entryPoint, chainID).Bytes())
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("sign user operation: %w", err)
	}
	op.Signature = sig
	return nil
}

// RecoverSigner returns the checksummed address that signed the operation.
func RecoverSigner(op *UserOperation, entryPoint, chainID string) (string, error) {
	if len(op.Signature) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(op.Signature))
	}
	digest := accounts.TextHash(Hash(op, entryPoint, chainID).Bytes())
	pub, err := ethcrypto.SigToPub(digest, op.Signature)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}
