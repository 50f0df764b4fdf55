package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts a single connection, writes reply and closes.
func fakeServer(t *testing.T, reply []byte) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write(reply)
	}()

	return listener.Addr().String()
}

func withTarget(addr, out string) func(*Options) {
	return func(o *Options) {
		o.Address = addr
		o.OutputPath = out
	}
}

func TestNewDefaultOptions(t *testing.T) {
	want := &Options{
		Address:    "127.0.0.1:8080",
		OutputPath: "received_example.txt",
	}
	if diff := cmp.Diff(want, NewDefaultOptions()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestGetFile(t *testing.T) {
	addr := fakeServer(t, append([]byte{0x00, 0x00, 0x00, 0x0D}, "Hello, world!"...))
	out := filepath.Join(t.TempDir(), "received_example.txt")

	result, err := GetFile(context.Background(), withTarget(addr, out))
	require.NoError(t, err)

	require.Equal(t, uint32(13), result.Size)
	require.Equal(t, out, result.Path)
	require.False(t, result.NotFound)
	require.NotEmpty(t, result.Digest)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(content))
}

func TestGetFileOverwrites(t *testing.T) {
	addr := fakeServer(t, append([]byte{0, 0, 0, 2}, "hi"...))
	out := filepath.Join(t.TempDir(), "received_example.txt")
	require.NoError(t, os.WriteFile(out, []byte("a much longer previous content"), 0o644))

	_, err := GetFile(context.Background(), withTarget(addr, out))
	require.NoError(t, err)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hi", string(content))
}

func TestGetFileNotFound(t *testing.T) {
	addr := fakeServer(t, []byte{0, 0, 0, 0})
	out := filepath.Join(t.TempDir(), "received_example.txt")

	result, err := GetFile(context.Background(), withTarget(addr, out))
	require.NoError(t, err)
	require.True(t, result.NotFound)

	_, err = os.Stat(out)
	require.True(t, errors.Is(err, os.ErrNotExist), "output file must not exist, stat error: %v", err)
}

func TestGetFileTruncatedPayload(t *testing.T) {
	addr := fakeServer(t, append([]byte{0, 0, 0, 0x0D}, "Hello"...))
	out := filepath.Join(t.TempDir(), "received_example.txt")

	_, err := GetFile(context.Background(), withTarget(addr, out))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = os.Stat(out)
	require.True(t, errors.Is(err, os.ErrNotExist), "truncated transfer must not create a file")
}

func TestGetFileTruncatedHeader(t *testing.T) {
	addr := fakeServer(t, []byte{0, 0})
	out := filepath.Join(t.TempDir(), "received_example.txt")

	_, err := GetFile(context.Background(), withTarget(addr, out))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGetFileConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	out := filepath.Join(t.TempDir(), "received_example.txt")
	_, err = GetFile(context.Background(), withTarget(addr, out))
	require.Error(t, err)

	_, err = os.Stat(out)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestGetFileCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	// Accept and stall without writing anything.
	held := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			held <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := filepath.Join(t.TempDir(), "received_example.txt")
	_, err = GetFile(ctx, withTarget(listener.Addr().String(), out))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetFileIOTimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte{0, 0, 0, 10})
		time.Sleep(time.Second)
	}()

	out := filepath.Join(t.TempDir(), "received_example.txt")
	_, err = GetFile(context.Background(), func(o *Options) {
		o.Address = listener.Addr().String()
		o.OutputPath = out
		o.IOTimeout = 100 * time.Millisecond
	})

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}
