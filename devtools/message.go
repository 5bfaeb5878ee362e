package devtools

import (
	"encoding/json"
	"fmt"
)

// Message types received from an inspection tool.
const (
	MessageAction   = "ACTION"
	MessageDispatch = "DISPATCH"
)

// Dispatch payload types.
const (
	DispatchReset          = "RESET"
	DispatchCommit         = "COMMIT"
	DispatchRollback       = "ROLLBACK"
	DispatchJumpToState    = "JUMP_TO_STATE"
	DispatchJumpToAction   = "JUMP_TO_ACTION"
	DispatchImportState    = "IMPORT_STATE"
	DispatchPauseRecording = "PAUSE_RECORDING"
)

// setStateAction is the action type that replaces state directly, without a
// dispatcher.
const setStateAction = "__setState"

// Action labels a mirrored transition.
type Action struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Message is a command sent by the inspection tool.
//
// For ACTION messages Payload holds the action, either as a JSON object or as
// a JSON string containing one. For DISPATCH messages Payload decodes into a
// DispatchPayload and State carries the serialized state to jump to.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	State   string          `json:"state,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// DispatchPayload is the payload of a DISPATCH message.
type DispatchPayload struct {
	Type            string       `json:"type"`
	ActionID        int          `json:"actionId,omitempty"`
	NextLiftedState *LiftedState `json:"nextLiftedState,omitempty"`
}

// LiftedState is the tool's recorded history, as sent with IMPORT_STATE.
type LiftedState struct {
	ComputedStates []ComputedState `json:"computedStates"`
}

// ComputedState is one recorded state.
type ComputedState struct {
	State json.RawMessage `json:"state"`
}

// actionJSON returns the raw action carried by an ACTION message.
func (m Message) actionJSON() ([]byte, error) {
	if len(m.Payload) == 0 {
		return nil, fmt.Errorf("devtools: ACTION message without payload")
	}
	if m.Payload[0] == '"' {
		var text string
		if err := json.Unmarshal(m.Payload, &text); err != nil {
			return nil, fmt.Errorf("devtools: decode action payload: %w", err)
		}
		if !json.Valid([]byte(text)) {
			return nil, fmt.Errorf("devtools: action payload is not valid JSON: %q", text)
		}
		return []byte(text), nil
	}
	if !json.Valid(m.Payload) {
		return nil, fmt.Errorf("devtools: action payload is not valid JSON")
	}
	return m.Payload, nil
}

func (m Message) dispatchPayload() (DispatchPayload, error) {
	var p DispatchPayload
	if len(m.Payload) == 0 {
		return p, fmt.Errorf("devtools: DISPATCH message without payload")
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("devtools: decode dispatch payload: %w", err)
	}
	return p, nil
}
