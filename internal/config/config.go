// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads voicecore's tunables (UDP discovery retries, the
// heartbeat interval cap, the PCM decoder binary) the way the rest of the
// rapidaai services read env-driven configuration, via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tunables are the knobs spec.md hard-codes (discovery retry count, the
// 5s heartbeat cap, the 20ms frame cadence, the 5s post-handshake read
// timeout) exposed for override in testing and for operators running
// against non-standard gateway deployments.
type Tunables struct {
	UDPDiscoveryRetries  int
	HeartbeatIntervalCap time.Duration
	FrameInterval        time.Duration
	PollReadTimeout      time.Duration
	DecoderBinary        string
}

// DefaultTunables returns the values spec.md names explicitly.
func DefaultTunables() Tunables {
	return Tunables{
		UDPDiscoveryRetries:  5,
		HeartbeatIntervalCap: 5000 * time.Millisecond,
		FrameInterval:        20 * time.Millisecond,
		PollReadTimeout:      5000 * time.Millisecond,
		DecoderBinary:        "ffmpeg",
	}
}

// Load reads Tunables from environment variables prefixed VOICECORE_,
// falling back to DefaultTunables for anything unset.
func Load() Tunables {
	v := viper.New()
	v.SetEnvPrefix("voicecore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTunables()
	v.SetDefault("udp_discovery_retries", defaults.UDPDiscoveryRetries)
	v.SetDefault("heartbeat_interval_cap_ms", defaults.HeartbeatIntervalCap.Milliseconds())
	v.SetDefault("frame_interval_ms", defaults.FrameInterval.Milliseconds())
	v.SetDefault("poll_read_timeout_ms", defaults.PollReadTimeout.Milliseconds())
	v.SetDefault("decoder_binary", defaults.DecoderBinary)

	return Tunables{
		UDPDiscoveryRetries:  v.GetInt("udp_discovery_retries"),
		HeartbeatIntervalCap: time.Duration(v.GetInt64("heartbeat_interval_cap_ms")) * time.Millisecond,
		FrameInterval:        time.Duration(v.GetInt64("frame_interval_ms")) * time.Millisecond,
		PollReadTimeout:      time.Duration(v.GetInt64("poll_read_timeout_ms")) * time.Millisecond,
		DecoderBinary:        v.GetString("decoder_binary"),
	}
}
