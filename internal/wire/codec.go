// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import (
	"encoding/json"
	"fmt"
)

// rawEnvelope is the first-pass decode: just enough to route on Op before
// parsing D against the concrete payload type.
type rawEnvelope struct {
	Op uint8           `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Frame is a decoded receivable control message. Payload is nil for
// opcodes voicecore acknowledges but does not interpret (presence, video,
// screenshare, RESUMED, CLIENT_CONNECT/DISCONNECT) and for any opcode this
// build doesn't recognize — unknown opcodes are tolerated silently.
type Frame struct {
	Op      uint8
	Payload interface{}
}

// Encode marshals a sendable envelope (as built by New*) to JSON text.
func Encode(msg interface{}) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode performs the two-step parse: first into {op, raw d}, then
// re-parses d according to op. Unknown opcodes return a Frame with a nil
// Payload and no error.
func Decode(data []byte) (Frame, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("wire: decode envelope: %w", err)
	}

	frame := Frame{Op: raw.Op}

	switch raw.Op {
	case OpHello:
		var p Hello
		if err := json.Unmarshal(raw.D, &p); err != nil {
			return Frame{}, fmt.Errorf("wire: decode HELLO: %w", err)
		}
		frame.Payload = p
	case OpReady:
		var p Ready
		if err := json.Unmarshal(raw.D, &p); err != nil {
			return Frame{}, fmt.Errorf("wire: decode READY: %w", err)
		}
		frame.Payload = p
	case OpSessionDescription:
		var p SessionDescription
		if err := json.Unmarshal(raw.D, &p); err != nil {
			return Frame{}, fmt.Errorf("wire: decode SESSION_DESCRIPTION: %w", err)
		}
		frame.Payload = p
	case OpHeartbeatAck:
		var p int64
		if err := json.Unmarshal(raw.D, &p); err != nil {
			return Frame{}, fmt.Errorf("wire: decode HEARTBEAT_ACK: %w", err)
		}
		frame.Payload = p
	case OpHeartbeat:
		// The platform may echo HEARTBEAT back at us; payload shape matches
		// what we send (an integer), but we don't need its value to act.
	case OpResumed, OpClientConnect, OpClientDisconnect:
		// Acknowledged, intentionally ignored (spec.md §1 non-goals).
	default:
		// Unknown opcode: tolerated silently.
	}

	return frame, nil
}
