package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Framing errors.
var (
	ErrPayloadTooLarge = errors.New("payload exceeds 4 byte length prefix")
	ErrShortHeader     = errors.New("header shorter than 4 bytes")
)

// Header is the length prefix that precedes every payload on the wire.
type Header struct {
	Length uint32
}

// NewHeader describes content, failing if it is too large to frame.
func NewHeader(content []byte) (Header, error) {
	if uint64(len(content)) > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(content))
	}
	return Header{Length: uint32(len(content))}, nil
}

// NotFound reports whether the server had no file to send.
func (h Header) NotFound() bool {
	return h.Length == NotFound
}

// ToBytes encodes the header in network byte order.
func (h Header) ToBytes() []byte {
	arr := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(arr, h.Length)
	return arr
}

// HeaderFromBytes decodes the first HeaderSize bytes.
func HeaderFromBytes(bytes []byte) (Header, error) {
	if len(bytes) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{Length: binary.BigEndian.Uint32(bytes[:HeaderSize])}, nil
}

// WriteHeader writes a length prefix without a payload.
func WriteHeader(w io.Writer, length uint32) error {
	if _, err := w.Write(Header{Length: length}.ToBytes()); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	return nil
}

// ReadHeader reads exactly one length prefix.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read length prefix: %w", err)
	}
	return HeaderFromBytes(buf[:])
}

// WriteFile frames content as length prefix followed by the raw bytes.
// Nothing is written when content cannot be framed.
func WriteFile(w io.Writer, content []byte) error {
	header, err := NewHeader(content)
	if err != nil {
		return err
	}
	if err := WriteHeader(w, header.Length); err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadPayload reads exactly length bytes. A peer closing early yields an
// error wrapping io.ErrUnexpectedEOF.
func ReadPayload(r io.Reader, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload (%d of %d bytes): %w", n, length, err)
	}
	return buf, nil
}
