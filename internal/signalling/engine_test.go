package signalling

import (
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/wire"
)

// mockGateway runs a minimal voice-gateway handshake over a single upgraded
// WebSocket: Hello -> (await Identify) -> Ready -> (await SelectProtocol) ->
// SessionDescription. It also runs a UDP echo-discovery responder on udpConn.
type mockGateway struct {
	udpConn *net.UDPConn
	srv     *httptest.Server
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	mg := &mockGateway{udpConn: udpConn}

	go func() {
		buf := make([]byte, discoveryPacketSize)
		for {
			n, raddr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n != discoveryPacketSize {
				continue
			}
			resp := make([]byte, discoveryPacketSize)
			copy(resp[discoveryIPFieldOffset:], "127.0.0.1")
			binary.BigEndian.PutUint16(resp[discoveryPortOffset:], 40000)
			udpConn.WriteToUDP(resp, raddr)
		}
	}()

	upgrader := gws.Upgrader{}
	mg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, _ := wire.Encode(struct {
			Op uint8       `json:"op"`
			D  interface{} `json:"d"`
		}{Op: wire.OpHello, D: wire.Hello{HeartbeatInterval: 100}})
		conn.WriteMessage(gws.TextMessage, hello)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.Decode(msg)
			if err != nil {
				continue
			}
			switch frame.Op {
			case wire.OpIdentify:
				ready, _ := wire.Encode(struct {
					Op uint8       `json:"op"`
					D  interface{} `json:"d"`
				}{Op: wire.OpReady, D: wire.Ready{
					SSRC:  0xC0FFEE,
					IP:    strings.Split(udpConn.LocalAddr().String(), ":")[0],
					Port:  udpPort(udpConn),
					Modes: []string{"xsalsa20_poly1305", "xsalsa20_poly1305_lite"},
				}})
				conn.WriteMessage(gws.TextMessage, ready)
			case wire.OpSelectProtocol:
				var key [32]byte
				for i := range key {
					key[i] = byte(i)
				}
				sd, _ := wire.Encode(struct {
					Op uint8       `json:"op"`
					D  interface{} `json:"d"`
				}{Op: wire.OpSessionDescription, D: wire.SessionDescription{
					Mode:      "xsalsa20_poly1305_lite",
					SecretKey: key,
				}})
				conn.WriteMessage(gws.TextMessage, sd)
			case wire.OpHeartbeat:
				ack, _ := wire.Encode(struct {
					Op uint8       `json:"op"`
					D  interface{} `json:"d"`
				}{Op: wire.OpHeartbeatAck, D: time.Now().UnixMilli()})
				conn.WriteMessage(gws.TextMessage, ack)
			}
		}
	}))
	return mg
}

func udpPort(conn *net.UDPConn) uint16 {
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func (mg *mockGateway) close() {
	mg.srv.Close()
	mg.udpConn.Close()
}

func TestEngine_ConnectCompletesHandshake(t *testing.T) {
	mg := newMockGateway(t)
	defer mg.close()

	host := strings.TrimPrefix(mg.srv.URL, "http://")
	e := New(Params{
		Endpoint: host,
		ServerID: "server", UserID: "user", SessionID: "session", Token: "token",
		Insecure: true,
	}, config.DefaultTunables(), nil)

	ctx, cancel := newTestContext(t)
	defer cancel()

	err := e.Connect(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 0xC0FFEE, e.SSRC())
	assert.Equal(t, "xsalsa20_poly1305_lite", e.Mode().String())
	key := e.SecretKey()
	for i := 0; i < 32; i++ {
		assert.Equal(t, byte(i), key[i])
	}
	assert.True(t, e.State().IsConnected())

	e.Close(1000)
}

func TestEngine_PollTracksHeartbeatLatency(t *testing.T) {
	mg := newMockGateway(t)
	defer mg.close()

	host := strings.TrimPrefix(mg.srv.URL, "http://")
	tunables := config.DefaultTunables()
	e := New(Params{
		Endpoint: host,
		ServerID: "server", UserID: "user", SessionID: "session", Token: "token",
		Insecure: true,
	}, tunables, nil)

	ctx, cancel := newTestContext(t)
	defer cancel()
	require.NoError(t, e.Connect(ctx))
	defer e.Close(1000)

	e.mu.Lock()
	e.heartbeatInterval = time.Millisecond
	e.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, e.Poll(ctx))
		if e.LastLatency() > 0 {
			break
		}
	}
	assert.Greater(t, e.LastLatency(), time.Duration(0))
}
