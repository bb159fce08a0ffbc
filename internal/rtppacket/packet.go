// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package rtppacket builds the RTP-shaped, encrypted outbound media
// datagram: an RTP header, an Opus-encoded payload, encrypted in place, and
// a nonce tail appended per the negotiated cipher.Mode.
package rtppacket

import (
	"fmt"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/voicecore/internal/cipher"
)

// Per spec.md §4.4: 1275 (max ideal Opus frame) + 24 (nonce, pre-encrypt
// accounting) + 12 (RTP header) + 24 (nonce again) + 16 (Poly1305 tag) + 12
// (slack) bytes.
const MaxBufferSize = 1275 + 24 + 12 + 24 + 16 + 12

// HeaderSize is the fixed 12-byte RTP header prefix every datagram starts with.
const HeaderSize = 12

// SamplesPerFrame is 960 stereo samples: 20ms at 48kHz.
const SamplesPerFrame = 960

const (
	payloadType    uint8 = 120
	opusSampleRate       = 48000
	opusChannels         = 2
	opusBitrate          = 128000
	opusPacketLoss       = 15
)

// Builder formats outbound datagrams for one negotiated session. It owns a
// reusable scratch buffer and the running sequence/timestamp/lite-nonce
// counters; it is not safe for concurrent use (the media pipeline owns it
// on a single goroutine, per spec.md §5's ordering guarantee).
type Builder struct {
	encoder *opus.Encoder
	cipher  cipher.Mode
	key     [32]byte
	ssrc    uint32

	sequence  uint16
	timestamp uint32
	liteNonce uint32

	buf [MaxBufferSize]byte
}

// NewBuilder creates a Builder for the given SSRC, encryption mode, and
// 32-byte session secret. The Opus encoder is configured exactly per
// spec.md §4.4: 48kHz stereo, audio application profile, 128kbps, inband
// FEC enabled, 15% expected loss, fullband, grounded in
// original_source/src/player.rs's AudioEncoder::from_protocol.
func NewBuilder(ssrc uint32, mode cipher.Mode, key [32]byte) (*Builder, error) {
	enc, err := opus.NewEncoder(opusSampleRate, opusChannels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("rtppacket: creating opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return nil, fmt.Errorf("rtppacket: setting bitrate: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("rtppacket: enabling inband FEC: %w", err)
	}
	if err := enc.SetPacketLossPerc(opusPacketLoss); err != nil {
		return nil, fmt.Errorf("rtppacket: setting packet loss perc: %w", err)
	}
	if err := enc.SetMaxBandwidth(opus.Fullband); err != nil {
		return nil, fmt.Errorf("rtppacket: setting bandwidth: %w", err)
	}
	// Signal type is left at the encoder's automatic default, matching
	// audiopus::Signal::Auto in the original.

	return &Builder{
		encoder: enc,
		cipher:  mode,
		key:     key,
		ssrc:    ssrc,
	}, nil
}

// PayloadScratch returns the region of the scratch buffer an AudioSource
// should write its frame into before calling Build — offset 12,
// past where the RTP header will land.
func (b *Builder) PayloadScratch() []byte {
	return b.buf[HeaderSize:]
}

// EncodePCM encodes a 960-sample stereo PCM frame into the scratch buffer's
// payload region and returns the encoded size.
func (b *Builder) EncodePCM(pcm []int16) (int, error) {
	n, err := b.encoder.Encode(pcm, b.buf[HeaderSize:])
	if err != nil {
		return 0, fmt.Errorf("rtppacket: opus encode: %w", err)
	}
	return n, nil
}

// Build finalizes a datagram from a payload of payloadSize bytes already
// sitting at PayloadScratch()[:payloadSize] (placed there either by
// EncodePCM or by an Opus AudioSource reading directly into it). It:
//
//  1. increments sequence (wrapping) and writes the 12-byte RTP header;
//  2. seals the payload into the scratch buffer right after the header and
//     appends the nonce tail per cipher.Mode;
//  3. increments the lite-nonce counter unconditionally (spec.md §3 invariant).
//
// timestamp is NOT advanced here — spec.md §4.4/§4.6/§9 requires the
// timestamp to advance only after a confirmed send, which the caller
// (MediaPipeline) does via AdvanceTimestamp once the UDP write succeeds.
func (b *Builder) Build(payloadSize int) ([]byte, error) {
	b.sequence++

	var header [HeaderSize]byte
	header[0] = 0x80 // V=2, P=0, X=0, CC=0
	header[1] = payloadType
	header[2] = byte(b.sequence >> 8)
	header[3] = byte(b.sequence)
	header[4] = byte(b.timestamp >> 24)
	header[5] = byte(b.timestamp >> 16)
	header[6] = byte(b.timestamp >> 8)
	header[7] = byte(b.timestamp)
	header[8] = byte(b.ssrc >> 24)
	header[9] = byte(b.ssrc >> 16)
	header[10] = byte(b.ssrc >> 8)
	header[11] = byte(b.ssrc)
	copy(b.buf[:HeaderSize], header[:])

	// secretbox.Seal rejects an output that overlaps its input, so the
	// payload is copied out before being sealed back into the scratch buffer.
	plaintext := make([]byte, payloadSize)
	copy(plaintext, b.buf[HeaderSize:HeaderSize+payloadSize])
	sealed, err := cipher.Seal(b.cipher, header, b.liteNonce, plaintext, &b.key, b.buf[:HeaderSize])
	b.liteNonce++
	if err != nil {
		return nil, fmt.Errorf("rtppacket: sealing payload: %w", err)
	}

	return sealed, nil
}

// AdvanceTimestamp increments the RTP timestamp by SamplesPerFrame
// (wrapping mod 2^32), to be called only after a successful send.
func (b *Builder) AdvanceTimestamp() {
	b.timestamp += SamplesPerFrame
}

// Sequence returns the current sequence number (for tests/diagnostics).
func (b *Builder) Sequence() uint16 { return b.sequence }

// Timestamp returns the current RTP timestamp (for tests/diagnostics).
func (b *Builder) Timestamp() uint32 { return b.timestamp }

// LiteNonce returns the current lite-nonce counter (for tests/diagnostics).
func (b *Builder) LiteNonce() uint32 { return b.liteNonce }

// ParseHeader decodes the 12-byte RTP header of a received datagram using
// pion/rtp, returning the header fields this package needs.
func ParseHeader(datagram []byte) (seq uint16, timestamp uint32, ssrc uint32, err error) {
	var h rtp.Header
	if err := h.Unmarshal(datagram); err != nil {
		return 0, 0, 0, fmt.Errorf("rtppacket: parsing RTP header: %w", err)
	}
	return h.SequenceNumber, h.Timestamp, h.SSRC, nil
}
