package base

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	payloads := [][]byte{[]byte("hello"), {}, make([]byte, 4096)}

	go func() {
		for i, p := range payloads {
			_ = writeFrame(client, uint64(i+1), p)
		}
	}()

	buf := make([]byte, 16)
	for i, want := range payloads {
		id, got, err := readFrame(srv, buf)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), id)
		assert.Equal(t, len(want), len(got))
	}
}

func TestOversizedFrameIsRejected(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go func() {
		var header [frameHeaderSize]byte
		binary.BigEndian.PutUint64(header[:8], 7)
		binary.BigEndian.PutUint32(header[8:], maxFrameSize+1)
		_, _ = client.Write(header[:])
	}()

	_, _, err := readFrame(srv, nil)
	var tooLarge *ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint32(maxFrameSize+1), tooLarge.Size)
}
