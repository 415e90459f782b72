package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/talisrun/talischain/aa"
	"github.com/talisrun/talischain/core"
	"github.com/talisrun/talischain/indexer"
	"github.com/talisrun/talischain/vm/modules/game"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	case "getGameSession":
		return h.getGameSession(req)

	case "getVestingSchedule":
		return h.getVestingSchedule(req)

	case "getClaimable":
		return h.getClaimable(req)

	case "getGameParams":
		return h.getGameParams(req)

	case "getPaymasterParams":
		return h.getPaymasterParams(req)

	case "getSponsorUsage":
		return h.getSponsorUsage(req)

	case "getSmartAccount":
		return h.getSmartAccount(req)

	case "getNonce":
		return h.getNonce(req)

	case "getDeposit":
		return h.getDeposit(req)

	case "getSessionHistory":
		return h.getSessionHistory(req)

	case "getSponsorshipLog":
		return h.getSponsorshipLog(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"address":    params.Address,
		"balance":    acc.Balance,
		"nonce":      acc.Nonce,
		"allowances": acc.Allowances,
	})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx, time.Now().Unix()); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getGameSession(req Request) Response {
	player, resp := h.requireAddressParam(req, "player")
	if resp != nil {
		return *resp
	}
	sess, err := h.state.GetGameSession(player)
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeInternalError, "no session for player")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, sess)
}

func (h *Handler) getVestingSchedule(req Request) Response {
	player, resp := h.requireAddressParam(req, "player")
	if resp != nil {
		return *resp
	}
	vs, err := h.state.GetVesting(player)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	now := time.Now().Unix()
	return okResponse(req.ID, map[string]any{
		"player":         vs.Player,
		"total_amount":   vs.TotalAmount,
		"claimed_amount": vs.ClaimedAmount,
		"start_time":     vs.StartTime,
		"duration":       vs.Duration,
		"vested":         game.VestedAmount(vs, now),
		"claimable":      game.ClaimableAmount(vs, now),
	})
}

func (h *Handler) getClaimable(req Request) Response {
	player, resp := h.requireAddressParam(req, "player")
	if resp != nil {
		return *resp
	}
	vs, err := h.state.GetVesting(player)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, game.ClaimableAmount(vs, time.Now().Unix()))
}

func (h *Handler) getGameParams(req Request) Response {
	params, err := h.state.GetGameParams()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, params)
}

func (h *Handler) getPaymasterParams(req Request) Response {
	params, err := h.state.GetPaymasterParams()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, params)
}

func (h *Handler) getSponsorUsage(req Request) Response {
	user, resp := h.requireAddressParam(req, "user")
	if resp != nil {
		return *resp
	}
	usage, err := h.state.GetSponsorUsage(user)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, usage)
}

// getSmartAccount resolves by owner or by address. For an owner without a
// deployed account the predicted counterfactual address is returned so
// wallets can show it ahead of first use.
func (h *Handler) getSmartAccount(req Request) Response {
	var params struct {
		Owner   string        `json:"owner"`
		Address string        `json:"address"`
		Salt    hexutil.Bytes `json:"salt"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}

	var acct *core.SmartAccount
	var err error
	switch {
	case params.Address != "":
		acct, err = h.state.GetSmartAccount(params.Address)
	case params.Owner != "":
		acct, err = h.state.GetSmartAccountByOwner(params.Owner)
	default:
		return errResponse(req.ID, CodeInvalidParams, "owner or address is required")
	}

	if errors.Is(err, core.ErrNotFound) {
		if params.Owner == "" {
			return errResponse(req.ID, CodeInternalError, "no account at address")
		}
		return okResponse(req.ID, map[string]any{
			"owner":     params.Owner,
			"predicted": aa.DeriveAccountAddress(params.Owner, params.Salt),
			"deployed":  false,
		})
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"owner":      acct.Owner,
		"address":    acct.Address,
		"salt":       acct.Salt,
		"created_at": acct.CreatedAt,
		"nonces":     acct.Nonces,
		"deployed":   true,
	})
}

func (h *Handler) getNonce(req Request) Response {
	var params struct {
		Sender string `json:"sender"`
		Key    uint64 `json:"key"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Sender == "" {
		return errResponse(req.ID, CodeInvalidParams, "sender is required")
	}
	acct, err := h.state.GetSmartAccount(params.Sender)
	if errors.Is(err, core.ErrNotFound) {
		return okResponse(req.ID, uint64(0))
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, acct.NonceAt(params.Key))
}

func (h *Handler) getDeposit(req Request) Response {
	addr, resp := h.requireAddressParam(req, "address")
	if resp != nil {
		return *resp
	}
	dep, err := h.state.GetDeposit(addr)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, dep)
}

func (h *Handler) getSessionHistory(req Request) Response {
	player, resp := h.requireAddressParam(req, "player")
	if resp != nil {
		return *resp
	}
	records, err := h.indexer.GetSessionHistory(player)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, records)
}

func (h *Handler) getSponsorshipLog(req Request) Response {
	user, resp := h.requireAddressParam(req, "user")
	if resp != nil {
		return *resp
	}
	records, err := h.indexer.GetSponsorshipLog(user)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, records)
}

// requireAddressParam extracts a single required string field from params.
func (h *Handler) requireAddressParam(req Request, field string) (string, *Response) {
	var params map[string]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return "", &resp
	}
	v := params[field]
	if v == "" {
		resp := errResponse(req.ID, CodeInvalidParams, field+" is required")
		return "", &resp
	}
	return v, nil
}
