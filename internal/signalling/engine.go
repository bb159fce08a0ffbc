// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package signalling drives the WebSocket control channel for one voice
// gateway session: the Hello/Identify/Ready/SelectProtocol/
// SessionDescription handshake, UDP reflexive-address discovery, and the
// ongoing heartbeat/ack loop.
package signalling

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicecore/internal/cipher"
	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/lifecycle"
	"github.com/rapidaai/voicecore/internal/voicelog"
	"github.com/rapidaai/voicecore/internal/wire"
)

// Params identifies the session this Engine negotiates, mirroring
// original_source/src/protocol.rs's DiscordVoiceProtocol construction
// fields.
type Params struct {
	Endpoint  string // host[:port], without scheme
	ServerID  string
	UserID    string
	SessionID string
	Token     string
	// Resume indicates a Resume payload should be sent instead of Identify.
	Resume bool
	// Insecure selects the ws:// scheme instead of wss:// — only ever set
	// by tests against a local mock gateway.
	Insecure bool
}

// Engine owns one voice-gateway WebSocket connection plus its negotiated
// UDP media socket. Poll is not safe for concurrent invocation (one
// goroutine drives the signalling loop, per spec.md §5); accessor methods
// (LastLatency, SSRC, Mode, SecretKey, SendFunc) are.
type Engine struct {
	params    Params
	tunables  config.Tunables
	log       voicelog.Logger
	dialer    *websocket.Dialer

	ws      *websocket.Conn
	writeMu sync.Mutex

	udp *net.UDPConn

	mu                sync.Mutex
	ssrc              uint32
	mode              cipher.Mode
	secretKey         [32]byte
	endpointIP        string
	port              uint16
	heartbeatInterval time.Duration
	lastHeartbeatAt   time.Time
	latencies         *latencyRing

	state *lifecycle.Register
}

// New constructs an Engine. It does not connect; call Connect.
func New(params Params, tunables config.Tunables, log voicelog.Logger) *Engine {
	if log == nil {
		log = voicelog.NewNop()
	}
	return &Engine{
		params:    params,
		tunables:  tunables,
		log:       log,
		dialer:    &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		latencies: newLatencyRing(),
		state:     lifecycle.New(),
	}
}

// State exposes the underlying lifecycle register so callers (the media
// pipeline, the root façade) can wait on transitions.
func (e *Engine) State() *lifecycle.Register { return e.state }

// Connect dials the WebSocket gateway and drives the handshake through to
// Established (SessionDescription received, UDP socket ready). It returns
// once the session is usable or the handshake fails.
func (e *Engine) Connect(ctx context.Context) error {
	scheme := "wss"
	if e.params.Insecure {
		scheme = "ws"
	}
	u := url.URL{Scheme: scheme, Host: e.params.Endpoint, Path: "/", RawQuery: "v=4"}

	conn, _, err := e.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("signalling: dialing gateway: %w", err)
	}
	e.ws = conn
	e.log.Infow("signalling: connected", "endpoint", e.params.Endpoint)

	for {
		frame, err := e.readOne()
		if err != nil {
			return err
		}

		switch frame.Op {
		case wire.OpHello:
			hello, _ := frame.Payload.(wire.Hello)
			e.mu.Lock()
			e.heartbeatInterval = e.cappedHeartbeatInterval(hello.HeartbeatInterval)
			e.mu.Unlock()
			if err := e.sendIdentifyOrResume(); err != nil {
				return err
			}

		case wire.OpReady:
			ready, _ := frame.Payload.(wire.Ready)
			if err := e.handleReady(ctx, ready); err != nil {
				return err
			}

		case wire.OpSessionDescription:
			sd, _ := frame.Payload.(wire.SessionDescription)
			mode, err := cipher.ParseMode(sd.Mode)
			if err != nil {
				return fmt.Errorf("signalling: session description: %w", err)
			}
			e.mu.Lock()
			e.mode = mode
			e.secretKey = sd.SecretKey
			e.mu.Unlock()
			e.state.Set(lifecycle.Connected)
			e.log.Infow("signalling: session established", "mode", mode.String())
			return nil

		default:
			// Resumed, HeartbeatAck, and unrecognized opcodes during the
			// handshake are logged and ignored; the handshake only
			// progresses on Hello/Ready/SessionDescription.
			e.log.Debugw("signalling: ignoring opcode during handshake", "op", frame.Op)
		}
	}
}

// cappedHeartbeatInterval bounds the gateway-advertised interval by the
// configured cap, guarding against a misbehaving or malicious gateway
// advertising an unreasonably long interval.
func (e *Engine) cappedHeartbeatInterval(advertisedMs float64) time.Duration {
	d := time.Duration(advertisedMs * float64(time.Millisecond))
	ceiling := e.tunables.HeartbeatIntervalCap
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func (e *Engine) sendIdentifyOrResume() error {
	if e.params.Resume {
		return e.send(wire.NewResume(wire.ResumeInfo{
			ServerID:  e.params.ServerID,
			SessionID: e.params.SessionID,
			Token:     e.params.Token,
		}))
	}
	return e.send(wire.NewIdentify(wire.IdentifyInfo{
		ServerID:  e.params.ServerID,
		UserID:    e.params.UserID,
		SessionID: e.params.SessionID,
		Token:     e.params.Token,
	}))
}

func (e *Engine) handleReady(ctx context.Context, ready wire.Ready) error {
	e.mu.Lock()
	e.ssrc = ready.SSRC
	e.endpointIP = ready.IP
	e.port = ready.Port
	e.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ready.IP, ready.Port))
	if err != nil {
		return fmt.Errorf("signalling: resolving media address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("signalling: dialing media socket: %w", err)
	}
	e.udp = conn

	ip, port, err := discover(ctx, conn, ready.SSRC, e.tunables.UDPDiscoveryRetries)
	if err != nil {
		return fmt.Errorf("signalling: udp discovery: %w", err)
	}

	mode, err := cipher.Best(ready.Modes)
	if err != nil {
		return fmt.Errorf("signalling: negotiating encryption mode: %w", err)
	}

	return e.send(wire.NewSelectProtocol(ip, port, mode.String()))
}

func (e *Engine) readOne() (wire.Frame, error) {
	_, data, err := e.ws.ReadMessage()
	if err != nil {
		if code, ok := closeCodeOf(err); ok {
			return wire.Frame{}, &CloseError{Code: code}
		}
		return wire.Frame{}, fmt.Errorf("signalling: reading message: %w", err)
	}
	frame, err := wire.Decode(data)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("signalling: decoding frame: %w", err)
	}
	return frame, nil
}

func closeCodeOf(err error) (int, bool) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, true
	}
	return 0, false
}

func (e *Engine) send(msg interface{}) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("signalling: encoding message: %w", err)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signalling: writing message: %w", err)
	}
	return nil
}

// Poll runs one iteration of the post-handshake loop: sends a heartbeat if
// one is due, then reads with a bounded deadline and dispatches the result
// (HeartbeatAck updates the latency ring; a gateway-initiated Heartbeat is
// answered immediately; any other opcode is logged and ignored). It
// returns nil on a timed-out or otherwise quiet iteration, or a
// *CloseError once the gateway closes the connection.
func (e *Engine) Poll(ctx context.Context) error {
	if err := e.heartbeatIfDue(); err != nil {
		return err
	}

	if err := e.ws.SetReadDeadline(time.Now().Add(e.tunables.PollReadTimeout)); err != nil {
		return fmt.Errorf("signalling: setting read deadline: %w", err)
	}
	_, data, err := e.ws.ReadMessage()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		if code, ok := closeCodeOf(err); ok {
			e.state.Set(lifecycle.Disconnected)
			return &CloseError{Code: code}
		}
		return fmt.Errorf("signalling: reading message: %w", err)
	}

	frame, err := wire.Decode(data)
	if err != nil {
		return fmt.Errorf("signalling: decoding frame: %w", err)
	}

	switch frame.Op {
	case wire.OpHeartbeatAck:
		e.mu.Lock()
		rtt := time.Since(e.lastHeartbeatAt)
		e.latencies.push(rtt)
		e.mu.Unlock()
	case wire.OpHeartbeat:
		// The gateway may itself request an immediate heartbeat; respond
		// right away rather than waiting for the next scheduled one.
		if err := e.heartbeat(); err != nil {
			return err
		}
	default:
		e.log.Debugw("signalling: ignoring opcode after handshake", "op", frame.Op)
	}
	return nil
}

func (e *Engine) heartbeatIfDue() error {
	e.mu.Lock()
	due := e.heartbeatInterval > 0 && time.Since(e.lastHeartbeatAt) >= e.heartbeatInterval
	e.mu.Unlock()
	if !due {
		return nil
	}
	return e.heartbeat()
}

func (e *Engine) heartbeat() error {
	now := time.Now()
	if err := e.send(wire.NewHeartbeat(now)); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastHeartbeatAt = now
	e.mu.Unlock()
	return nil
}

// SendSpeaking announces the local speaking state to the gateway.
func (e *Engine) SendSpeaking(flags wire.SpeakingFlags) error {
	return e.send(wire.NewSpeaking(flags))
}

// Close sends a WebSocket close frame with code and tears down the UDP
// socket. Errors sending the close frame are logged, not returned — the
// caller is shutting down regardless, matching
// original_source/src/lib.rs's disconnect()/stop() handling. The lifecycle
// register transitions to Disconnected (not Finished), matching
// original_source/src/protocol.rs's close(): the media pipeline, if
// running, is expected to wait for reconnection rather than terminate.
func (e *Engine) Close(code int) {
	e.state.Set(lifecycle.Disconnected)
	if e.ws != nil {
		e.writeMu.Lock()
		err := e.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "closing connection"))
		e.writeMu.Unlock()
		if err != nil {
			e.log.Warnw("signalling: error sending close frame", "error", err)
		}
		if err := e.ws.Close(); err != nil {
			e.log.Warnw("signalling: error closing websocket", "error", err)
		}
	}
	if e.udp != nil {
		if err := e.udp.Close(); err != nil {
			e.log.Warnw("signalling: error closing media socket", "error", err)
		}
	}
}

// SSRC returns the negotiated synchronization source identifier.
func (e *Engine) SSRC() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ssrc
}

// Mode returns the negotiated encryption mode.
func (e *Engine) Mode() cipher.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SecretKey returns the negotiated 32-byte session secret.
func (e *Engine) SecretKey() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secretKey
}

// EndpointIP returns the gateway's advertised media IP (from READY), not
// the client's own discovered reflexive address.
func (e *Engine) EndpointIP() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endpointIP
}

// Port returns the gateway's advertised media port (from READY).
func (e *Engine) Port() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// LastLatency returns the most recent heartbeat round-trip time.
func (e *Engine) LastLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latencies.last()
}

// AverageLatency returns the mean of the retained heartbeat round-trip
// samples (up to the last 20, per original_source/src/protocol.rs).
func (e *Engine) AverageLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latencies.average()
}

// SendFunc returns a closure over the negotiated UDP socket suitable for
// handing to the media pipeline. Rust's UdpSocket::try_clone() has no
// direct Go equivalent; net.UDPConn's Write is documented safe for
// concurrent use by multiple goroutines, so a bound closure over the same
// *net.UDPConn serves the same purpose without duplicating a file
// descriptor.
func (e *Engine) SendFunc() func([]byte) (int, error) {
	return func(b []byte) (int, error) {
		return e.udp.Write(b)
	}
}

// CloseError is returned from Poll/Connect when the gateway closes the
// WebSocket connection with a specific close code.
type CloseError struct {
	Code int
}

func (err *CloseError) Error() string {
	return fmt.Sprintf("signalling: connection closed with code %d", err.Code)
}
