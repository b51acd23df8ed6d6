package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// StdioSessionID is the id of the single stdio session
const StdioSessionID = "stdio"

const contentLengthHeader = "content-length"

// framing is how a message was delimited on the wire. Responses are
// written back the same way.
type framing int

const (
	framingLine framing = iota
	framingHeader
)

type frame struct {
	body    []byte
	framing framing
	err     error
}

// ServeStdio reads messages from r and writes responses to w until r
// reaches EOF or ctx is cancelled. Each line holds one JSON message; a
// message starting with a Content-Length header is read LSP-style instead.
func (h *Handler) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.openSession(StdioSessionID, "stdio", cancel)
	defer h.closeSession(StdioSessionID)

	frames := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(ctx, bufio.NewReader(r), frames)
	}()

	out := &frameWriter{w: w}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read stdin: %w", err)
		case f := <-frames:
			var resp *MCPMessage
			if f.err != nil {
				h.log().Warn("Malformed frame", map[string]interface{}{"error": f.err.Error()})
				resp = errorResponse(nil, CodeParseError, "Parse error")
			} else {
				resp = h.HandleMessage(ctx, StdioSessionID, f.body)
			}
			if resp == nil {
				continue
			}
			if err := out.write(resp, f.framing); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

// readFrames pushes frames until the reader fails or ctx is done
func readFrames(ctx context.Context, br *bufio.Reader, frames chan<- frame) error {
	for {
		f, err := readFrame(br)
		if err != nil {
			return err
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readFrame reads the next message, skipping blank lines
func readFrame(br *bufio.Reader) (frame, error) {
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && (!errors.Is(err, io.EOF) || len(line) == 0) {
			return frame{}, err
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return frame{}, err
			}
			continue
		}

		if isContentLength(trimmed) {
			return readHeaderFrame(br, trimmed)
		}
		return frame{body: trimmed, framing: framingLine}, nil
	}
}

// readHeaderFrame reads the remaining headers and the body announced by
// the first Content-Length line
func readHeaderFrame(br *bufio.Reader, first []byte) (frame, error) {
	_, value, _ := strings.Cut(string(first), ":")
	length, convErr := strconv.Atoi(strings.TrimSpace(value))

	// other headers, such as Content-Type, are ignored
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return frame{}, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			break
		}
	}

	if convErr != nil || length < 0 {
		return frame{framing: framingHeader, err: fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))}, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return frame{}, err
	}
	return frame{body: body, framing: framingHeader}, nil
}

func isContentLength(line []byte) bool {
	name, _, found := strings.Cut(string(line), ":")
	return found && strings.EqualFold(strings.TrimSpace(name), contentLengthHeader)
}

// frameWriter serializes writes of responses
type frameWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (fw *frameWriter) write(msg *MCPMessage, f framing) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if f == framingHeader {
		if _, err := fmt.Fprintf(fw.w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
			return err
		}
		_, err = fw.w.Write(body)
		return err
	}

	_, err = fw.w.Write(append(body, '\n'))
	return err
}
