package transport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTransport_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("0;255;3;0;14;Gateway startup complete.\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	tr := &TCPTransport{DialTimeout: time.Second}
	conn, err := tr.Open(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	frame, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, "0;255;3;0;14;Gateway startup complete.", string(frame))

	require.NoError(t, conn.Write([]byte("0;255;3;0;2;\n")))
	select {
	case line := <-received:
		assert.Equal(t, "0;255;3;0;2;\n", line)
	case <-time.After(time.Second):
		t.Fatal("gateway did not receive frame")
	}
}

func TestTCPTransport_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = (&TCPTransport{DialTimeout: time.Second}).Open(context.Background(), addr)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestTCPTransport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&TCPTransport{}).Open(ctx, "127.0.0.1:5003")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestSerialTransport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&SerialTransport{BaudRate: 115200}).Open(ctx, "/dev/does-not-exist")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestSerialTransport_MissingDevice(t *testing.T) {
	_, err := (&SerialTransport{BaudRate: 115200}).Open(context.Background(), "/dev/mysensors-missing-port")
	assert.ErrorIs(t, err, ErrConnect)
}
