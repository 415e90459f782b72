package aa

import (
	"encoding/json"
	"fmt"

	"github.com/talisrun/talischain/core"
)

// GameCall is the self-describing call descriptor carried in a
// UserOperation's CallData. Method names the transaction handler to invoke
// and Params is its payload, executed with the smart account as caller and
// zero value transfer.
type GameCall struct {
	To     string          `json:"to"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// EncodeGameCall serialises a call descriptor for use as CallData.
func EncodeGameCall(call *GameCall) ([]byte, error) {
	return json.Marshal(call)
}

// DecodeGameCall parses CallData back into a call descriptor.
func DecodeGameCall(callData []byte) (*GameCall, error) {
	var call GameCall
	if err := json.Unmarshal(callData, &call); err != nil {
		return nil, fmt.Errorf("decode call data: %w", err)
	}
	if call.Method == "" {
		return nil, fmt.Errorf("call data missing method")
	}
	return &call, nil
}

// NewSessionStartCall targets the game engine's session_start handler.
func NewSessionStartCall() *GameCall {
	return &GameCall{To: core.GameEngineAddress, Method: string(core.TxSessionStart), Params: json.RawMessage(`{}`)}
}

// NewSessionRetryCall targets the game engine's session_retry handler.
func NewSessionRetryCall() *GameCall {
	return &GameCall{To: core.GameEngineAddress, Method: string(core.TxSessionRetry), Params: json.RawMessage(`{}`)}
}

// NewSessionEndCall targets session_end with the reported talisman count.
func NewSessionEndCall(talismans uint64) (*GameCall, error) {
	params, err := json.Marshal(core.SessionEndPayload{Talismans: talismans})
	if err != nil {
		return nil, err
	}
	return &GameCall{To: core.GameEngineAddress, Method: string(core.TxSessionEnd), Params: params}, nil
}

// NewClaimRewardsCall targets the game engine's claim_rewards handler.
func NewClaimRewardsCall() *GameCall {
	return &GameCall{To: core.GameEngineAddress, Method: string(core.TxClaimRewards), Params: json.RawMessage(`{}`)}
}
