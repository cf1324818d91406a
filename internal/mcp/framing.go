package mcp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxFrame bounds a single Content-Length body.
const maxFrame = 16 << 20

type wireMode int

const (
	wireAuto wireMode = iota
	wireLine
	wireHeader
)

func (m wireMode) String() string {
	switch m {
	case wireLine:
		return "line"
	case wireHeader:
		return "content-length"
	}
	return "auto"
}

// frameReader reads JSON-RPC messages framed either as single lines or
// with LSP-style Content-Length headers. The framing is chosen from the
// first message and kept for the life of the stream.
type frameReader struct {
	r    *bufio.Reader
	mode wireMode
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// next returns the body of the next message.
func (f *frameReader) next() ([]byte, error) {
	if f.mode == wireAuto {
		mode, err := f.detect()
		if err != nil {
			return nil, err
		}
		f.mode = mode
	}
	if f.mode == wireHeader {
		return f.readHeaderFrame()
	}
	return f.readLine()
}

func (f *frameReader) detect() (wireMode, error) {
	for {
		b, err := f.r.Peek(1)
		if err != nil {
			return wireAuto, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = f.r.ReadByte()
		case 'C', 'c':
			return wireHeader, nil
		default:
			return wireLine, nil
		}
	}
}

func (f *frameReader) readLine() ([]byte, error) {
	for {
		line, err := f.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *frameReader) readHeaderFrame() ([]byte, error) {
	length := -1
	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && length < 0 && strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				// Blank lines between frames.
				continue
			}
			break
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "content-length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad Content-Length %q", val)
		}
		if n > maxFrame {
			return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
		}
		length = n
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// writeFrame writes body using the framing mode. Auto falls back to
// line framing.
func writeFrame(w io.Writer, mode wireMode, body []byte) error {
	if mode == wireHeader {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
			return err
		}
		_, err := w.Write(body)
		return err
	}
	_, err := w.Write(append(body, '\n'))
	return err
}
