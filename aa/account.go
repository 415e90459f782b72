package aa

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/talisrun/talischain/core"
)

// accountDomainTag versions the derivation scheme. Changing it changes
// every counterfactual address.
const accountDomainTag = "talischain/smart-account/v1"

// DeriveAccountAddress computes the counterfactual smart-account address for
// an owner key and salt. Pure function of its inputs, so wallets can show
// the address before the account exists on chain.
func DeriveAccountAddress(owner string, salt []byte) string {
	h := ethcrypto.Keccak256([]byte(accountDomainTag), common.HexToAddress(owner).Bytes(), salt)
	return common.BytesToAddress(h[12:]).Hex()
}

// Registry manages smart-account records in chain state. One account per
// owner; the first deployment wins and later salts are ignored.
type Registry struct {
	state core.State
}

// NewRegistry wraps a chain state.
func NewRegistry(state core.State) *Registry {
	return &Registry{state: state}
}

// Create deploys the smart account for owner with the given salt, or returns
// the existing account unchanged if the owner already has one.
func (r *Registry) Create(owner string, salt []byte, now int64) (*core.SmartAccount, bool, error) {
	existing, err := r.state.GetSmartAccountByOwner(owner)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}

	addr := DeriveAccountAddress(owner, salt)
	if _, err := r.state.GetSmartAccount(addr); err == nil {
		return nil, false, fmt.Errorf("address collision at %s", addr)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}

	acct := &core.SmartAccount{
		Address:   addr,
		Owner:     owner,
		Salt:      common.Bytes2Hex(salt),
		CreatedAt: now,
		Nonces:    make(map[uint64]uint64),
	}
	if err := r.state.SetSmartAccount(acct); err != nil {
		return nil, false, err
	}
	return acct, true, nil
}

// Lookup returns the deployed account for owner, or core.ErrNotFound.
func (r *Registry) Lookup(owner string) (*core.SmartAccount, error) {
	return r.state.GetSmartAccountByOwner(owner)
}

// Get returns the account at address, or core.ErrNotFound.
func (r *Registry) Get(address string) (*core.SmartAccount, error) {
	return r.state.GetSmartAccount(address)
}

// HasAccount reports whether an account is deployed at address.
func (r *Registry) HasAccount(address string) bool {
	_, err := r.state.GetSmartAccount(address)
	return err == nil
}

// packInitCode builds the InitCode blob: owner address followed by salt.
func packInitCode(owner string, salt []byte) []byte {
	return append(common.HexToAddress(owner).Bytes(), salt...)
}

// unpackInitCode splits an InitCode blob back into owner and salt.
func unpackInitCode(initCode []byte) (owner string, salt []byte, err error) {
	if len(initCode) < common.AddressLength {
		return "", nil, fmt.Errorf("init code too short: %d bytes", len(initCode))
	}
	owner = common.BytesToAddress(initCode[:common.AddressLength]).Hex()
	return owner, initCode[common.AddressLength:], nil
}
