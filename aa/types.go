// Package aa implements the account-abstraction pipeline: counterfactual
// smart-account addresses, UserOperation construction and hashing, owner
// signatures over the personal-message digest, the entry-point dispatcher
// and the gas-sponsorship paymaster.
package aa

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UserOperation is a self-contained, signed description of one action to
// execute through a smart account. It is submitted via a user_ops
// transaction rather than signed by the account itself.
type UserOperation struct {
	Sender               string        `json:"sender"` // smart account, 0x address
	NonceKey             uint64        `json:"nonce_key"`
	Nonce                uint64        `json:"nonce"`
	InitCode             hexutil.Bytes `json:"init_code"` // owner(20) ‖ salt, empty once deployed
	CallData             hexutil.Bytes `json:"call_data"`
	CallGasLimit         uint64        `json:"call_gas_limit"`
	VerificationGasLimit uint64        `json:"verification_gas_limit"`
	PreVerificationGas   uint64        `json:"pre_verification_gas"`
	MaxFeePerGas         uint64        `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas uint64        `json:"max_priority_fee_per_gas"`
	PaymasterAndData     hexutil.Bytes `json:"paymaster_and_data"` // paymaster(20) ‖ extra
	Signature            hexutil.Bytes `json:"signature"`
}

// HasPaymaster reports whether the operation requests gas sponsorship.
func (op *UserOperation) HasPaymaster() bool {
	return len(op.PaymasterAndData) >= common.AddressLength
}

// Paymaster returns the checksummed paymaster address, or "" if unsponsored.
func (op *UserOperation) Paymaster() string {
	if !op.HasPaymaster() {
		return ""
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength]).Hex()
}

// TotalGasLimit is the sum of all gas limit fields.
func (op *UserOperation) TotalGasLimit() uint64 {
	return op.CallGasLimit + op.VerificationGasLimit + op.PreVerificationGas
}

// MaxPrefund is the worst-case cost charged before execution.
func (op *UserOperation) MaxPrefund() uint64 {
	return op.TotalGasLimit() * op.MaxFeePerGas
}

// UserOpsPayload is the transaction payload carrying a batch of operations.
// Beneficiary receives the collected execution fees after the batch.
type UserOpsPayload struct {
	Ops         []*UserOperation `json:"ops"`
	Beneficiary string           `json:"beneficiary"`
}

// Receipt summarises one executed operation.
type Receipt struct {
	OpHash     string `json:"op_hash"`
	Sender     string `json:"sender"`
	Success    bool   `json:"success"`
	ActualCost uint64 `json:"actual_cost"`
	Sponsored  bool   `json:"sponsored"`
}

// EstimateCallGas prices call data the way Ethereum intrinsic gas does:
// a flat base plus per-byte costs that distinguish zero bytes.
func EstimateCallGas(callData []byte) uint64 {
	gas := uint64(21000)
	for _, b := range callData {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}
