// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package media

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
)

// DecoderSource spawns an external decoder process (ffmpeg by default,
// configurable per internal/config.Tunables.DecoderBinary) that transcodes
// an arbitrary input URI to raw s16le/48kHz/stereo PCM on stdout, and reads
// 20ms frames from it. It mirrors
// original_source/src/player.rs's FFmpegPCMAudio.
type DecoderSource struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
}

// NewDecoderSource spawns the decoder process for input (a file path or
// URL the decoder binary understands).
func NewDecoderSource(binary, input string) (*DecoderSource, error) {
	cmd := exec.Command(binary,
		"-i", input,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "warning",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: opening decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: starting decoder process: %w", err)
	}
	return &DecoderSource{cmd: cmd, stdout: bufio.NewReaderSize(stdout, 1<<16)}, nil
}

// Kind reports KindPCM: the decoder always emits raw PCM for the pipeline
// to Opus-encode.
func (d *DecoderSource) Kind() Kind { return KindPCM }

// ReadPCM reads len(buf) little-endian int16 samples from the decoder's
// stdout, returning (0, false) on EOF or read error (the decoder process
// exited or the stream ended).
func (d *DecoderSource) ReadPCM(buf []int16) (int, bool) {
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(d.stdout, raw)
	if n == 0 || (err != nil && err != io.ErrUnexpectedEOF) {
		return 0, false
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, true
}

// ReadOpus is never called on a PCM source.
func (d *DecoderSource) ReadOpus(buf []byte) (int, bool) {
	panic("media: ReadOpus called on a PCM DecoderSource")
}

// Close terminates the decoder process, matching the original's kill-on-Drop
// semantics for FFmpegPCMAudio's Child handle.
func (d *DecoderSource) Close() error {
	if d.cmd.Process == nil {
		return nil
	}
	_ = d.cmd.Process.Kill()
	return d.cmd.Wait()
}
