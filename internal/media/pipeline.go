// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package media

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rapidaai/voicecore/internal/cipher"
	"github.com/rapidaai/voicecore/internal/lifecycle"
	"github.com/rapidaai/voicecore/internal/rtppacket"
	"github.com/rapidaai/voicecore/internal/voicelog"
	"github.com/rapidaai/voicecore/internal/wire"
)

// defaultFrameInterval is used when a zero Tunables value is passed to New,
// matching spec.md's 20ms frame cadence.
const defaultFrameInterval = 20 * time.Millisecond

// Session supplies everything the Pipeline needs to (re)build an encoder
// and send bytes, without owning a duplicated OS socket handle — see
// internal/signalling.Engine.SendFunc's doc comment for why a closure
// replaces Rust's UdpSocket::try_clone here.
type Session interface {
	SSRC() uint32
	Mode() cipher.Mode
	SecretKey() [32]byte
	SendFunc() func([]byte) (int, error)
	SendSpeaking(flags wire.SpeakingFlags) error
}

// Pipeline drives the paced send loop for one Source against one Session,
// coordinating with a shared lifecycle.Register exactly as
// original_source/src/player.rs's audio_play_loop does: break when
// Finished, block on WaitUntilNotPaused when Paused, rebuild the encoder
// and resync the cadence when recovering from Disconnected.
type Pipeline struct {
	session       Session
	state         *lifecycle.Register
	source        Source
	log           voicelog.Logger
	frameInterval time.Duration
}

// New constructs a Pipeline. state is shared with the signalling engine so
// pause/resume/reconnect are visible to both. frameInterval paces the send
// loop; a zero value falls back to spec.md's 20ms cadence.
func New(session Session, state *lifecycle.Register, source Source, log voicelog.Logger, frameInterval time.Duration) *Pipeline {
	if log == nil {
		log = voicelog.NewNop()
	}
	if frameInterval <= 0 {
		frameInterval = defaultFrameInterval
	}
	return &Pipeline{session: session, state: state, source: source, log: log, frameInterval: frameInterval}
}

// Run executes the send loop until the source is exhausted, the lifecycle
// reaches Finished, or ctx is canceled. It blocks; call it from its own
// goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.session.SendSpeaking(wire.SpeakingMicrophone); err != nil {
		p.log.Warnw("media: failed to announce speaking state", "error", err)
	}
	defer func() {
		if err := p.session.SendSpeaking(wire.SpeakingOff); err != nil {
			p.log.Warnw("media: failed to clear speaking state", "error", err)
		}
	}()

	builder, send, err := p.buildEncoder()
	if err != nil {
		return err
	}

	nextIteration := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.state.IsFinished() {
			return nil
		}
		if p.state.IsPaused() {
			p.state.WaitUntilNotPaused()
			continue
		}
		if p.state.IsDisconnected() {
			p.state.WaitUntilConnected()
			nextIteration = time.Now()
			builder, send, err = p.buildEncoder()
			if err != nil {
				return err
			}
		}

		nextIteration = nextIteration.Add(p.frameInterval)

		size, ok, err := p.readFrame(builder)
		if err != nil {
			return err
		}
		if !ok {
			p.state.Set(lifecycle.Finished)
			continue
		}
		if size == 0 {
			continue
		}

		datagram, err := builder.Build(size)
		if err != nil {
			return fmt.Errorf("media: building packet: %w", err)
		}
		if _, err := send(datagram); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.log.Debugw("media: dropping packet", "sequence", builder.Sequence(), "timestamp", builder.Timestamp(), "error", err)
			} else {
				return fmt.Errorf("media: sending packet: %w", err)
			}
		} else {
			builder.AdvanceTimestamp()
		}

		now := time.Now()
		if nextIteration.Before(now) {
			nextIteration = now
		} else {
			time.Sleep(nextIteration.Sub(now))
		}
	}
}

func (p *Pipeline) buildEncoder() (*rtppacket.Builder, func([]byte) (int, error), error) {
	builder, err := rtppacket.NewBuilder(p.session.SSRC(), p.session.Mode(), p.session.SecretKey())
	if err != nil {
		return nil, nil, fmt.Errorf("media: building packet encoder: %w", err)
	}
	return builder, p.session.SendFunc(), nil
}

// readFrame pulls one frame from the source, Opus-encoding it first if the
// source emits PCM, and returns its size in the builder's payload scratch
// region.
func (p *Pipeline) readFrame(builder *rtppacket.Builder) (int, bool, error) {
	switch p.source.Kind() {
	case KindOpus:
		n, ok := p.source.ReadOpus(builder.PayloadScratch())
		return n, ok, nil
	default:
		pcm := make([]int16, rtppacket.SamplesPerFrame*2)
		n, ok := p.source.ReadPCM(pcm)
		if !ok {
			return 0, false, nil
		}
		encoded, err := builder.EncodePCM(pcm[:n])
		if err != nil {
			return 0, false, fmt.Errorf("media: encoding pcm frame: %w", err)
		}
		return encoded, true, nil
	}
}
