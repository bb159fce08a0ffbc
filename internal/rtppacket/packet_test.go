package rtppacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/cipher"
)

func TestBuild_S2HeaderLayoutAndLiteNonceTail(t *testing.T) {
	var key [32]byte
	b, err := NewBuilder(0xDEADBEEF, cipher.Lite, key)
	require.NoError(t, err)
	b.liteNonce = 7

	payload := []byte("opus-frame-bytes")
	copy(b.PayloadScratch(), payload)

	datagram, err := b.Build(len(payload))
	require.NoError(t, err)

	wantHeader := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	assert.Equal(t, wantHeader, datagram[:HeaderSize])

	tail := datagram[len(datagram)-4:]
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x07}, tail)

	assert.EqualValues(t, 1, b.Sequence())
	assert.EqualValues(t, 0, b.Timestamp(), "timestamp must not advance until AdvanceTimestamp is called")
	assert.EqualValues(t, 8, b.LiteNonce())
}

func TestBuild_RoundTripsThroughCipherOpen(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	for _, mode := range []cipher.Mode{cipher.Full, cipher.Suffix, cipher.Lite} {
		t.Run(mode.String(), func(t *testing.T) {
			b, err := NewBuilder(0x11223344, mode, key)
			require.NoError(t, err)

			payload := []byte("hello from the media pipeline")
			copy(b.PayloadScratch(), payload)

			datagram, err := b.Build(len(payload))
			require.NoError(t, err)

			var header [HeaderSize]byte
			copy(header[:], datagram[:HeaderSize])

			opened, err := cipher.Open(mode, header, datagram[HeaderSize:], &key)
			require.NoError(t, err)
			assert.Equal(t, payload, opened)
		})
	}
}

func TestBuild_SequenceWrapsAndTimestampAdvancesOnlyWhenCalled(t *testing.T) {
	var key [32]byte
	b, err := NewBuilder(1, cipher.Full, key)
	require.NoError(t, err)
	b.sequence = 0xFFFF

	payload := []byte("x")
	copy(b.PayloadScratch(), payload)

	_, err = b.Build(len(payload))
	require.NoError(t, err)
	assert.EqualValues(t, 0, b.Sequence(), "sequence must wrap")

	assert.EqualValues(t, 0, b.Timestamp())
	b.AdvanceTimestamp()
	assert.EqualValues(t, SamplesPerFrame, b.Timestamp())
}

func TestParseHeader_RoundTripsBuildOutput(t *testing.T) {
	var key [32]byte
	b, err := NewBuilder(0xCAFEBABE, cipher.Suffix, key)
	require.NoError(t, err)

	payload := []byte("frame")
	copy(b.PayloadScratch(), payload)
	datagram, err := b.Build(len(payload))
	require.NoError(t, err)

	seq, ts, ssrc, err := ParseHeader(datagram)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)
	assert.EqualValues(t, 0, ts)
	assert.EqualValues(t, 0xCAFEBABE, ssrc)
}
