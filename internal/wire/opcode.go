// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wire implements the opcoded JSON control protocol spoken over the
// signalling WebSocket: envelope {"op": <u8>, "d": <payload>}, with a
// two-step decode (raw envelope, then op-dispatched payload).
package wire

// Opcode values, bit-exact with the platform's voice gateway protocol.
const (
	OpIdentify           uint8 = 0
	OpSelectProtocol     uint8 = 1
	OpReady              uint8 = 2
	OpHeartbeat          uint8 = 3
	OpSessionDescription uint8 = 4
	OpSpeaking           uint8 = 5
	OpHeartbeatAck       uint8 = 6
	OpResume             uint8 = 7
	OpHello              uint8 = 8
	OpResumed            uint8 = 9
	OpClientConnect      uint8 = 12
	OpClientDisconnect   uint8 = 13
)
