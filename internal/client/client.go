package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/lenxfer/internal/common"
)

// Result describes one finished transfer. When NotFound is set the server
// had no file and nothing was written locally.
type Result struct {
	Path     string
	Size     uint32
	Digest   string
	NotFound bool
}

type Client struct {
	options *Options
}

func New(opts ...func(*Options)) *Client {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	return &Client{options: options}
}

// GetFile connects once, receives one length prefixed payload and writes it
// to the output path. The output file is only created after the whole
// payload has arrived.
func (client *Client) GetFile(ctx context.Context) (*Result, error) {
	address := client.options.Address

	dialer := net.Dialer{Timeout: client.options.IOTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", address, err)
	}
	defer func(conn net.Conn) {
		err := conn.Close()
		if err != nil {
			log.WithError(err).Debug("Could not close TCP connection")
		}
	}(conn)

	if timeout := client.options.IOTimeout; timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	// Unblocks pending reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		if err := conn.SetDeadline(time.Now()); err != nil {
			log.WithError(err).Debug("Could not expire connection deadline")
		}
	})
	defer stop()

	logger := log.WithField("Address", address)
	logger.Info("Connected to server")

	header, err := common.ReadHeader(conn)
	if err != nil {
		return nil, client.readError(ctx, err)
	}

	if header.NotFound() {
		logger.Warn("Server reported: file not found")
		return &Result{NotFound: true}, nil
	}

	logger.WithField("Size", header.Length).Info("Receiving file")

	payload, err := common.ReadPayload(conn, header.Length)
	if err != nil {
		return nil, client.readError(ctx, err)
	}

	path := client.options.OutputPath
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write %v: %w", path, err)
	}

	result := &Result{
		Path:   path,
		Size:   header.Length,
		Digest: common.Digest(payload),
	}
	logger.WithFields(log.Fields{
		"File Path": result.Path,
		"Size":      result.Size,
		"Digest":    result.Digest,
	}).Info("File received and saved")

	return result, nil
}

func (client *Client) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func GetFile(ctx context.Context, opts ...func(*Options)) (*Result, error) {
	return New(opts...).GetFile(ctx)
}
