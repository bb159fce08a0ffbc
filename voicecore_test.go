// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicecore

import (
	"context"
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

	"github.com/rapidaai/voicecore/internal/wire"
)

// mockGateway is a minimal standalone voice-gateway handshake server,
// independent of internal/signalling's own test-only mock, since this
// package cannot reach into another package's unexported test helpers.
type mockGateway struct {
	udpConn *net.UDPConn
	srv     *httptest.Server
}

const discoveryPacketSize = 70

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
			copy(resp[4:], "127.0.0.1")
			binary.BigEndian.PutUint16(resp[68:], udpPort(udpConn))
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
					SSRC:  0xBADF00D,
					IP:    strings.Split(udpConn.LocalAddr().String(), ":")[0],
					Port:  udpPort(udpConn),
					Modes: []string{"xsalsa20_poly1305_lite"},
				}})
				conn.WriteMessage(gws.TextMessage, ready)
			case wire.OpSelectProtocol:
				var key [32]byte
				for i := range key {
					key[i] = byte(i + 1)
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

func newTestConnector(t *testing.T, mg *mockGateway) *Connector {
	t.Helper()
	c := NewConnector()
	c.Insecure = true
	c.SetParams(SessionParams{
		Endpoint:  strings.TrimPrefix(mg.srv.URL, "http://"),
		ServerID:  "server",
		UserID:    "user",
		SessionID: "session",
		Token:     "token",
	})
	return c
}

func TestConnector_ConnectResolvesWithEstablishedConnection(t *testing.T) {
	mg := newMockGateway(t)
	defer mg.close()

	connector := newTestConnector(t, mg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connCh := make(chan *Connection, 1)
	errCh := make(chan error, 1)
	connector.Connect(ctx, func(c *Connection) { connCh <- c }, func(err error) { errCh <- err })

	select {
	case conn := <-connCh:
		assert.Equal(t, "xsalsa20_poly1305_lite", conn.EncryptionMode())
		key := conn.SecretKey()
		for i := 0; i < 32; i++ {
			assert.Equal(t, byte(i+1), key[i])
		}
		snap := conn.StateSnapshot()
		assert.EqualValues(t, 0xBADF00D, snap.SSRC)
		assert.False(t, snap.PlayerConnected)
		conn.Disconnect()
	case err := <-errCh:
		t.Fatalf("unexpected reject: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for handshake")
	}
}

func TestConnector_ConnectRejectsOnUnreachableEndpoint(t *testing.T) {
	connector := NewConnector()
	connector.SessionID = "session"
	connector.UserID = "user"
	connector.Insecure = true
	connector.UpdateSocket("token", "server", "127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connCh := make(chan *Connection, 1)
	errCh := make(chan error, 1)
	connector.Connect(ctx, func(c *Connection) { connCh <- c }, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		var classified *Error
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, KindConnectionError, classified.Kind)
	case conn := <-connCh:
		t.Fatalf("unexpected resolve: %+v", conn)
	case <-ctx.Done():
		t.Fatal("timed out waiting for rejection")
	}
}
