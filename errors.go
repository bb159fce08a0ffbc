// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicecore

import (
	"errors"
	"fmt"

	"github.com/rapidaai/voicecore/internal/signalling"
)

// Kind classifies how a Connection terminated, mirroring the three
// exception types original_source/src/lib.rs raises into its Python host
// (ReconnectError, ConnectionClosed, ConnectionError).
type Kind int

const (
	// KindConnectionError covers any non-close-frame failure: transport
	// I/O, parse, crypto, codec, or an internal invariant violation.
	KindConnectionError Kind = iota
	// KindReconnect is a close frame whose code the host should recover
	// from by reconnecting (any code other than 1000/4014/4015).
	KindReconnect
	// KindConnectionClosed is a terminal close frame (1000, 4014, 4015):
	// normal closure, voice channel deleted, or voice server crash.
	KindConnectionClosed
)

func (k Kind) String() string {
	switch k {
	case KindReconnect:
		return "reconnect"
	case KindConnectionClosed:
		return "connection_closed"
	default:
		return "connection_error"
	}
}

// Error is the single error type voicecore surfaces to its host, following
// the teacher's typed-struct-implementing-error pattern (see
// api/assistant-api/internal/callers/stabilityai_caller.go's StabilityAiError)
// rather than a generic exception hierarchy.
type Error struct {
	Kind  Kind
	Code  int // close code; zero unless Kind is KindReconnect/KindConnectionClosed
	cause error
}

func (e *Error) Error() string {
	if e.Kind == KindConnectionError {
		return fmt.Sprintf("voicecore: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("voicecore: %s (code %d)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// terminalCloseCodes are the non-resumable close codes: normal closure,
// voice channel deleted, voice server crashed. Ported directly from
// original_source/src/lib.rs's code_can_be_handled.
var terminalCloseCodes = map[int]bool{
	1000: true,
	4014: true,
	4015: true,
}

func codeIsResumable(code int) bool {
	return !terminalCloseCodes[code]
}

func classifyCloseCode(code int) *Error {
	if codeIsResumable(code) {
		return &Error{Kind: KindReconnect, Code: code}
	}
	return &Error{Kind: KindConnectionClosed, Code: code}
}

// classify maps an error returned from the signalling engine into the
// host-facing taxonomy: a *signalling.CloseError becomes KindReconnect or
// KindConnectionClosed per its code; anything else is KindConnectionError.
func classify(err error) *Error {
	var closeErr *signalling.CloseError
	if errors.As(err, &closeErr) {
		return classifyCloseCode(closeErr.Code)
	}
	return &Error{Kind: KindConnectionError, cause: err}
}
