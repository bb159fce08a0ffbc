// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package voicecore is a client for a proprietary real-time voice gateway
// protocol: it completes a signalling handshake over a WebSocket control
// channel, negotiates a reflexive UDP address and a shared secret, and
// transports outbound audio as a stream of encrypted RTP-shaped datagrams
// paced at real time.
package voicecore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/lifecycle"
	"github.com/rapidaai/voicecore/internal/media"
	"github.com/rapidaai/voicecore/internal/signalling"
	"github.com/rapidaai/voicecore/internal/voicelog"
	"github.com/rapidaai/voicecore/internal/wire"
)

// Connector identifies a voice session and performs the initial handshake,
// mirroring original_source/src/lib.rs's VoiceConnector.
type Connector struct {
	SessionID string
	UserID    string

	endpoint string
	serverID string
	token    string

	Tunables config.Tunables
	Log      voicelog.Logger

	// Insecure dials the gateway over ws:// instead of wss://. It exists
	// solely so tests can point a Connector at a plain httptest.Server
	// mock gateway without standing up TLS certificates; production
	// callers should never set it.
	Insecure bool
}

// NewConnector creates a Connector with default tunables. Callers typically
// set SessionID/UserID directly and call UpdateSocket before Connect.
func NewConnector() *Connector {
	return &Connector{Tunables: config.DefaultTunables()}
}

// UpdateSocket sets the token/server/endpoint triple the voice-state and
// voice-server-update events deliver, matching
// original_source/src/lib.rs's VoiceConnector.update_socket.
func (c *Connector) UpdateSocket(token, serverID, endpoint string) {
	c.token = token
	c.serverID = serverID
	c.endpoint = endpoint
}

// SetParams configures a Connector from a single SessionParams value,
// covering the same fields UpdateSocket plus SessionID/UserID set
// individually.
func (c *Connector) SetParams(p SessionParams) {
	c.SessionID = p.SessionID
	c.UserID = p.UserID
	c.UpdateSocket(p.Token, p.ServerID, p.Endpoint)
}

// Connect performs the handshake on its own goroutine and reports the
// outcome through resolve/reject, following spec's host-future completion
// binding instead of returning a native Go future type: resolve is called
// with the established *Connection, reject with a classified *Error.
func (c *Connector) Connect(ctx context.Context, resolve func(*Connection), reject func(error)) {
	go func() {
		params := signalling.Params{
			Endpoint:  c.endpoint,
			ServerID:  c.serverID,
			UserID:    c.UserID,
			SessionID: c.SessionID,
			Token:     c.token,
			Insecure:  c.Insecure,
		}
		engine := signalling.New(params, c.Tunables, c.Log)
		if err := engine.Connect(ctx); err != nil {
			reject(classify(err))
			return
		}
		resolve(newConnection(ctx, engine, params, c.Tunables, c.Log))
	}()
}

// Connection is an established voice session: a signalling engine plus an
// optional active media pipeline, coordinated through a shared
// lifecycle.Register, matching original_source/src/lib.rs's VoiceConnection.
type Connection struct {
	id       uuid.UUID
	mu       sync.Mutex
	engine   *signalling.Engine
	params   signalling.Params
	tunables config.Tunables
	log      voicelog.Logger

	eg    *errgroup.Group
	egCtx context.Context

	decoder    *media.DecoderSource
	pipelineWG sync.WaitGroup
}

func newConnection(ctx context.Context, engine *signalling.Engine, params signalling.Params, tunables config.Tunables, log voicelog.Logger) *Connection {
	if log == nil {
		log = voicelog.NewNop()
	}
	eg, egCtx := errgroup.WithContext(ctx)
	id := uuid.New()
	log.Infow("voicecore: connection established", "connection_id", id, "server_id", params.ServerID, "session_id", params.SessionID)
	return &Connection{id: id, engine: engine, params: params, tunables: tunables, log: log, eg: eg, egCtx: egCtx}
}

// ID returns the debug correlation ID generated for this connection at
// handshake completion, included in every log line the connection emits.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Run starts the signalling poll loop on a supervised goroutine. resolve is
// invoked (with no argument) once the gateway closes with a resumable
// close code — matching original_source/src/lib.rs's VoiceConnection.run(),
// whose thread resolves its future with None on a code_can_be_handled
// close. reject is invoked with a classified *Error for any other
// termination (a terminal close code, or a transport/parse/crypto/codec
// failure).
func (c *Connection) Run(resolve func(), reject func(error)) {
	c.eg.Go(func() error {
		for {
			if err := c.engine.Poll(c.egCtx); err != nil {
				classified := classify(err)
				if classified.Kind == KindReconnect {
					resolve()
				} else {
					reject(classified)
				}
				return classified
			}
			if c.egCtx.Err() != nil {
				return c.egCtx.Err()
			}
		}
	})
}

// Wait blocks until the signalling and (if started) media goroutines have
// both returned, returning the first non-nil error either reported.
func (c *Connection) Wait() error {
	return c.eg.Wait()
}

// Disconnect closes the signalling connection with the normal-closure code,
// matching VoiceConnection.disconnect().
func (c *Connection) Disconnect() {
	c.engine.Close(1000)
}

// Play stops any currently active playback, spawns a decoder process for
// input, and starts a media pipeline streaming its output, matching
// VoiceConnection.play().
func (c *Connection) Play(input string) error {
	c.Stop()

	decoder, err := media.NewDecoderSource(c.tunables.DecoderBinary, input)
	if err != nil {
		return fmt.Errorf("voicecore: starting decoder: %w", err)
	}

	c.mu.Lock()
	c.decoder = decoder
	c.mu.Unlock()

	c.engine.State().Set(lifecycle.Playing)
	pipeline := media.New(c.engine, c.engine.State(), decoder, c.log, c.tunables.FrameInterval)

	c.pipelineWG.Add(1)
	c.eg.Go(func() error {
		defer c.pipelineWG.Done()
		defer func() {
			c.mu.Lock()
			if c.decoder == decoder {
				_ = decoder.Close()
				c.decoder = nil
			}
			c.mu.Unlock()
		}()
		if err := pipeline.Run(c.egCtx); err != nil {
			c.log.Warnw("voicecore: media pipeline exited", "connection_id", c.id, "error", err)
			return err
		}
		return nil
	})
	return nil
}

// Stop halts playback, matching VoiceConnection.stop(). It is a no-op when
// no pipeline is running — original_source/src/lib.rs's stop() only
// touches shared state when self.player is Some, so calling Stop while
// disconnected or otherwise idle must not force the lifecycle register to
// Connected.
func (c *Connection) Stop() {
	c.mu.Lock()
	playing := c.decoder != nil
	c.mu.Unlock()
	if !playing {
		return
	}
	c.engine.State().Set(lifecycle.Finished)
	c.pipelineWG.Wait()
	c.engine.State().Set(lifecycle.Connected)
	c.log.Debugw("voicecore: playback stopped", "connection_id", c.id)
}

// IsPlaying reports whether the shared lifecycle state is Playing. A
// pipeline that is paused or waiting for reconnection reports false.
func (c *Connection) IsPlaying() bool {
	return c.engine.State().IsPlaying()
}

// SendPlaying announces the microphone speaking flag once, matching
// VoiceConnection.send_playing().
func (c *Connection) SendPlaying() error {
	return c.engine.SendSpeaking(wire.SpeakingMicrophone)
}

// EncryptionMode returns the negotiated encryption mode's wire name.
func (c *Connection) EncryptionMode() string {
	return c.engine.Mode().String()
}

// SecretKey returns the negotiated 32-byte session secret.
func (c *Connection) SecretKey() [32]byte {
	return c.engine.SecretKey()
}

// StateSnapshot returns the host-facing view of the connection's state,
// matching VoiceConnection.get_state()'s dictionary key-for-key.
func (c *Connection) StateSnapshot() StateSnapshot {
	c.mu.Lock()
	playerConnected := c.decoder != nil
	c.mu.Unlock()

	return StateSnapshot{
		SecretKey:       c.engine.SecretKey(),
		EncryptionMode:  c.engine.Mode().String(),
		Endpoint:        c.params.Endpoint,
		EndpointIP:      c.engine.EndpointIP(),
		Port:            c.engine.Port(),
		Token:           c.params.Token,
		SSRC:            c.engine.SSRC(),
		LastHeartbeat:   c.engine.LastLatency(),
		PlayerConnected: playerConnected,
	}
}
