// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package media drives the 20ms outbound audio loop: pulling frames from an
// AudioSource, encoding/encrypting them via rtppacket.Builder, and sending
// them over the negotiated UDP socket, pausing/resuming/reconnecting per the
// shared lifecycle.Register.
package media

// Kind tags whether an AudioSource hands back raw PCM (which the pipeline
// must Opus-encode itself) or already-encoded Opus frames (sent as-is).
type Kind int

const (
	KindPCM Kind = iota
	KindOpus
)

// Source is the pull-based audio frame provider, mirroring
// original_source/src/player.rs's AudioSource trait.
type Source interface {
	// Kind reports whether ReadPCM or ReadOpus should be called.
	Kind() Kind

	// ReadPCM fills buf (960 stereo int16 samples, 20ms at 48kHz) and
	// returns the number of samples written and true, or (0, false) once
	// the source is exhausted. Only called when Kind() == KindPCM.
	ReadPCM(buf []int16) (int, bool)

	// ReadOpus fills buf with one already-encoded Opus frame and returns
	// its size and true, or (0, false) once exhausted. Only called when
	// Kind() == KindOpus.
	ReadOpus(buf []byte) (int, bool)
}
