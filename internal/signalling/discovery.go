// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package signalling

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// discoveryPacketSize is the fixed size of both the IP-discovery request and
// response datagrams, per original_source/src/protocol.rs's udp_discovery.
// The request is [type=1 (u16 BE)][length=70 (u16 BE)][ssrc (u32 BE)]
// followed by 62 zero bytes. The response is also 70 bytes and carries a
// null-terminated IP string starting at byte 4 followed by a big-endian
// port at bytes 68-69 — the response's bytes 0-3 are not read.
const discoveryPacketSize = 70

const discoveryRequestType = uint16(1)
const discoveryLength = uint16(70)

const discoverySSRCOffset = 4
const discoveryIPFieldOffset = 4
const discoveryPortOffset = 68

// discoveryTimeout bounds each individual discovery round-trip attempt.
const discoveryTimeout = 2 * time.Second

// discover performs the UDP reflexive-address discovery handshake: it sends
// a 70-byte request carrying ssrc and waits for the gateway to echo back the
// externally visible IP/port. It makes up to maxAttempts attempts, matching
// the original's retry loop, since UDP discovery packets may be dropped
// silently by the gateway or an intermediate NAT.
//
// Quirk preserved from the original: the IP string is scanned from byte 4,
// which is also where the request carries the SSRC (bytes 4-7), and the
// response's bytes 4-7 are not checked against the SSRC. A response with a
// zero byte in that region ends the scan early: a zero at byte 4 fails the
// parse, a later one yields a truncated IP string.
func discover(ctx context.Context, conn *net.UDPConn, ssrc uint32, maxAttempts int) (string, uint16, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		req := make([]byte, discoveryPacketSize)
		binary.BigEndian.PutUint16(req[0:2], discoveryRequestType)
		binary.BigEndian.PutUint16(req[2:4], discoveryLength)
		binary.BigEndian.PutUint32(req[discoverySSRCOffset:discoverySSRCOffset+4], ssrc)

		if err := conn.SetDeadline(time.Now().Add(discoveryTimeout)); err != nil {
			return "", 0, fmt.Errorf("signalling: setting discovery deadline: %w", err)
		}

		if _, err := conn.Write(req); err != nil {
			lastErr = fmt.Errorf("signalling: sending discovery request: %w", err)
			continue
		}

		resp := make([]byte, discoveryPacketSize)
		n, err := conn.Read(resp)
		if err != nil {
			lastErr = fmt.Errorf("signalling: reading discovery response: %w", err)
			continue
		}
		if n != discoveryPacketSize {
			lastErr = fmt.Errorf("signalling: discovery response had unexpected size %d", n)
			continue
		}

		ip, ok := parseDiscoveryIP(resp)
		if !ok {
			lastErr = fmt.Errorf("signalling: discovery response had no null-terminated IP string")
			continue
		}
		port := binary.BigEndian.Uint16(resp[discoveryPortOffset : discoveryPortOffset+2])
		return ip, port, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("signalling: discovery exhausted %d attempts", maxAttempts)
	}
	return "", 0, lastErr
}

func parseDiscoveryIP(resp []byte) (string, bool) {
	field := resp[discoveryIPFieldOffset:discoveryPortOffset]
	end := -1
	for i, b := range field {
		if b == 0 {
			end = i
			break
		}
	}
	if end <= 0 {
		return "", false
	}
	return string(field[:end]), true
}
