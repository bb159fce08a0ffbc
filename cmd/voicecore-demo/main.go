// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// voicecore-demo connects to a voice gateway, joins a session, and plays
// back a local audio file, the way sip-test exercised the SIP stack
// locally before a production call.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rapidaai/voicecore"
	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/voicelog"
)

// Config holds demo connection parameters.
type Config struct {
	Endpoint  string
	ServerID  string
	UserID    string
	SessionID string
	Token     string
	Input     string
	Debug     bool
}

func main() {
	cfg := parseFlags()

	logger, err := voicelog.New(&voicelog.Options{Debug: cfg.Debug})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Infow("voicecore-demo starting",
		"endpoint", cfg.Endpoint, "server_id", cfg.ServerID, "session_id", cfg.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Infow("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorw("voicecore-demo exited with error", "error", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Endpoint, "endpoint", "", "voice gateway endpoint host:port")
	flag.StringVar(&cfg.ServerID, "server-id", "", "voice server id")
	flag.StringVar(&cfg.UserID, "user-id", "", "connecting user id")
	flag.StringVar(&cfg.SessionID, "session-id", "", "voice session id")
	flag.StringVar(&cfg.Token, "token", "", "voice session token")
	flag.StringVar(&cfg.Input, "input", "", "audio file to play once connected")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg *Config, logger voicelog.Logger) error {
	connector := voicecore.NewConnector()
	connector.SetParams(voicecore.SessionParams{
		Endpoint:  cfg.Endpoint,
		ServerID:  cfg.ServerID,
		UserID:    cfg.UserID,
		SessionID: cfg.SessionID,
		Token:     cfg.Token,
	})
	connector.Tunables = config.Load()
	connector.Log = logger

	connCh := make(chan *voicecore.Connection, 1)
	errCh := make(chan error, 1)
	connector.Connect(ctx, func(conn *voicecore.Connection) {
		connCh <- conn
	}, func(err error) {
		errCh <- err
	})

	var conn *voicecore.Connection
	select {
	case conn = <-connCh:
	case err := <-errCh:
		return fmt.Errorf("handshake failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Infow("connected", "connection_id", conn.ID(), "encryption_mode", conn.EncryptionMode())

	conn.Run(func() {
		logger.Infow("signalling channel closed with a resumable close code")
	}, func(err error) {
		logger.Errorw("signalling channel closed", "error", err)
	})

	if cfg.Input != "" {
		if err := conn.Play(cfg.Input); err != nil {
			return fmt.Errorf("starting playback: %w", err)
		}
		if err := conn.SendPlaying(); err != nil {
			logger.Warnw("failed to announce speaking flag", "error", err)
		}
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Stop()
			conn.Disconnect()
			return conn.Wait()
		case <-ticker.C:
			snap := conn.StateSnapshot()
			logger.Infow("state snapshot",
				"ssrc", snap.SSRC, "last_heartbeat", snap.LastHeartbeat, "player_connected", snap.PlayerConnected)
			if !conn.IsPlaying() && cfg.Input != "" {
				return conn.Wait()
			}
		}
	}
}
