package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineConn_ReadSplitsFrames(t *testing.T) {
	local, remote := net.Pipe()
	c := newLineConn(local, time.Second)
	defer c.Close()

	go func() {
		remote.Write([]byte("0;255;3;0;14;Gateway startup complete.\r\n\n5;1;1;0;16;1\n"))
	}()

	f, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "0;255;3;0;14;Gateway startup complete.", string(f))

	f, err = c.Read()
	require.NoError(t, err)
	assert.Equal(t, "5;1;1;0;16;1", string(f), "empty lines are skipped")
}

func TestLineConn_RemoteCloseIsEOF(t *testing.T) {
	local, remote := net.Pipe()
	c := newLineConn(local, time.Second)

	remote.Close()
	_, err := c.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineConn_CloseUnblocksRead(t *testing.T) {
	local, _ := net.Pipe()
	c := newLineConn(local, time.Second)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Read()
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Read not unblocked by Close")
	}

	assert.ErrorIs(t, c.Write([]byte("x\n")), ErrClosed)
	assert.NoError(t, c.Close(), "second Close is a no-op")
}

func TestLineConn_FrameTooLong(t *testing.T) {
	local, remote := net.Pipe()
	c := newLineConn(local, time.Second)
	defer c.Close()

	go func() {
		remote.Write([]byte(strings.Repeat("x", MaxFrameSize+10)))
	}()

	_, err := c.Read()
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestLineConn_Write(t *testing.T) {
	local, remote := net.Pipe()
	c := newLineConn(local, time.Second)
	defer c.Close()

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\n')
		got <- line
	}()

	require.NoError(t, c.Write([]byte("0;0;3;0;2;\n")))
	assert.Equal(t, "0;0;3;0;2;\n", <-got)
}

func TestLineConn_WriteDeadline(t *testing.T) {
	local, _ := net.Pipe()
	c := newLineConn(local, 20*time.Millisecond)
	defer c.Close()

	// Nobody reads the remote end, so the write must time out.
	err := c.Write([]byte("0;0;3;0;2;\n"))
	require.Error(t, err)
	var ne net.Error
	assert.True(t, errors.As(err, &ne) && ne.Timeout(), "want timeout, got %v", err)
}
