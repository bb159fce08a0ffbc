// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wire

import "time"

// SpeakingFlags is a bitfield sent with the SPEAKING opcode.
type SpeakingFlags uint8

const (
	SpeakingMicrophone SpeakingFlags = 1 << 0
	SpeakingSoundshare SpeakingFlags = 1 << 1
	SpeakingPriority   SpeakingFlags = 1 << 2
	SpeakingOff        SpeakingFlags = 0
)

// envelope is the outer {"op", "d"} frame every control message uses.
type envelope struct {
	Op uint8       `json:"op"`
	D  interface{} `json:"d"`
}

// IdentifyInfo is the IDENTIFY payload.
type IdentifyInfo struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// NewIdentify builds the IDENTIFY envelope.
func NewIdentify(info IdentifyInfo) interface{} {
	return envelope{Op: OpIdentify, D: info}
}

// ResumeInfo is the RESUME payload.
type ResumeInfo struct {
	Token     string `json:"token"`
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
}

// NewResume builds the RESUME envelope.
func NewResume(info ResumeInfo) interface{} {
	return envelope{Op: OpResume, D: info}
}

// SelectProtocolData is the inner "data" object of SELECT_PROTOCOL.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// NewSelectProtocol builds the SELECT_PROTOCOL envelope from the discovered
// reflexive address and the negotiated encryption mode's wire string.
func NewSelectProtocol(address string, port uint16, mode string) interface{} {
	return envelope{
		Op: OpSelectProtocol,
		D: selectProtocolPayload{
			Protocol: "udp",
			Data: SelectProtocolData{
				Address: address,
				Port:    port,
				Mode:    mode,
			},
		},
	}
}

// NewHeartbeat builds a HEARTBEAT envelope carrying the current epoch
// milliseconds. Either wall clock or a monotonic reference is acceptable per
// spec.md §4.2 so long as each heartbeat carries a fresh value.
func NewHeartbeat(now time.Time) interface{} {
	return envelope{Op: OpHeartbeat, D: now.UnixMilli()}
}

type speakingPayload struct {
	Speaking uint8 `json:"speaking"`
	Delay    uint8 `json:"delay"`
}

// NewSpeaking builds the SPEAKING envelope.
func NewSpeaking(flags SpeakingFlags) interface{} {
	return envelope{Op: OpSpeaking, D: speakingPayload{Speaking: uint8(flags), Delay: 0}}
}

// Hello is the received HELLO payload.
type Hello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// Ready is the received READY payload.
type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// SessionDescription is the received SESSION_DESCRIPTION payload.
type SessionDescription struct {
	Mode string `json:"mode"`
	// SecretKey is a fixed-size array, not a slice, so encoding/json encodes
	// and decodes it as a plain JSON array of numbers rather than invoking
	// its []byte base64 special-casing.
	SecretKey [32]byte `json:"secret_key"`
}
