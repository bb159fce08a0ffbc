// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicecore

import "time"

// SessionParams identifies the voice session a Connector negotiates,
// mirroring original_source/src/lib.rs's VoiceConnector fields
// (session_id/endpoint/server_id/user_id/token).
type SessionParams struct {
	Endpoint  string
	ServerID  string
	UserID    string
	SessionID string
	Token     string
}

// StateSnapshot is the host-facing view of a Connection's negotiated state,
// matching original_source/src/lib.rs's VoiceConnection.get_state() dict
// key-for-key.
type StateSnapshot struct {
	SecretKey       [32]byte
	EncryptionMode  string
	Endpoint        string
	EndpointIP      string
	Port            uint16
	Token           string
	SSRC            uint32
	LastHeartbeat   time.Duration
	PlayerConnected bool
}
