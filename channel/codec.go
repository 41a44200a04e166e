package channel

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// MaxFrameBytes constrains frame decode/encode memory use.
const MaxFrameBytes = 4 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("channel: frame too large")
	ErrShortFrame    = errors.New("channel: short frame")
)

// ReadFrame reads one length-prefixed frame from the stream. A clean EOF on
// the length prefix is returned as io.EOF; a partial read is ErrShortFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrShortFrame
			}
			return nil, err
		}
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame to the stream.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Transport is a duplex, reliable-ordered message pipe to the engine. It may
// close at any time; Recv reports the closure and Send fails afterwards.
type Transport interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// streamTransport frames messages over a byte stream pair, typically the
// engine process stdio.
type streamTransport struct {
	r io.Reader

	wmu sync.Mutex
	w   io.Writer

	closeOnce sync.Once
	closers   []io.Closer
}

// NewStreamTransport wraps a read/write stream pair in the frame codec. The
// closers are closed exactly once when the transport is torn down.
func NewStreamTransport(r io.Reader, w io.Writer, closers ...io.Closer) Transport {
	return &streamTransport{r: r, w: w, closers: closers}
}

func (t *streamTransport) Send(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return WriteFrame(t.w, frame)
}

func (t *streamTransport) Recv() ([]byte, error) {
	return ReadFrame(t.r)
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		for _, c := range t.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
