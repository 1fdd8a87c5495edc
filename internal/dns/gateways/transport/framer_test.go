package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFramer_SingleMessage(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	msg := []byte{0xAA, 0xBB, 0xCC}

	require.NoError(t, f.Append(frameMessage(msg)))

	payload, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, msg, payload)
	assert.Equal(t, 0, f.Buffered())

	_, ok = f.Next()
	assert.False(t, ok)
}

func TestStreamFramer_PartialThenComplete(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	framed := frameMessage([]byte{1, 2, 3, 4})

	require.NoError(t, f.Append(framed[:3]))
	_, ok := f.Next()
	assert.False(t, ok, "incomplete message must not be extracted")
	assert.Equal(t, 3, f.Buffered())

	require.NoError(t, f.Append(framed[3:]))
	payload, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, payload)
}

func TestStreamFramer_LengthPrefixSplitAcrossAppends(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	framed := frameMessage([]byte{9, 9})

	require.NoError(t, f.Append(framed[:1]))
	_, ok := f.Next()
	assert.False(t, ok, "one byte is not enough to know the length")

	require.NoError(t, f.Append(framed[1:]))
	payload, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9}, payload)
}

func TestStreamFramer_ByteAtATimePreservesOrder(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	messages := [][]byte{
		{0x01},
		{0x02, 0x03},
		{0x04, 0x05, 0x06},
	}
	var stream []byte
	for _, m := range messages {
		stream = append(stream, frameMessage(m)...)
	}

	var got [][]byte
	for _, b := range stream {
		require.NoError(t, f.Append([]byte{b}))
		for {
			payload, ok := f.Next()
			if !ok {
				break
			}
			got = append(got, payload)
		}
	}

	// Chunk boundaries never change what is extracted or in what order.
	assert.Equal(t, messages, got)
	assert.Equal(t, 0, f.Buffered())
}

func TestStreamFramer_MultipleMessagesInOneAppend(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	var stream []byte
	stream = append(stream, frameMessage([]byte{1})...)
	stream = append(stream, frameMessage([]byte{2})...)
	require.NoError(t, f.Append(stream))

	first, ok := f.Next()
	require.True(t, ok)
	second, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, first)
	assert.Equal(t, []byte{2}, second)
}

func TestStreamFramer_ZeroLengthMessage(t *testing.T) {
	f := newStreamFramer(maxBufferedBytes)
	require.NoError(t, f.Append([]byte{0x00, 0x00}))

	payload, ok := f.Next()
	require.True(t, ok)
	assert.Empty(t, payload)
	assert.Equal(t, 0, f.Buffered())
}

func TestStreamFramer_Overflow(t *testing.T) {
	f := newStreamFramer(8)
	require.NoError(t, f.Append(make([]byte, 8)))

	err := f.Append([]byte{0x01})
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

func TestFrameMessage(t *testing.T) {
	framed := frameMessage([]byte{0xDE, 0xAD})
	assert.Equal(t, []byte{0x00, 0x02, 0xDE, 0xAD}, framed)
}
