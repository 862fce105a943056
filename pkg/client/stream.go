package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/tidwall/gjson"
)

const maxStreamLine = 1024 * 1024

// Stream is a one-shot, forward-only sequence of accumulated completion text.
// Each step yields the whole text received so far, not just the latest delta.
// The request is sent on the first call to Next. If the stream cannot be
// established or reading fails, Next yields one final formatted error and stops.
type Stream struct {
	ctx     context.Context
	client  *Client
	payload []byte
	err     error

	started bool
	done    bool
	body    io.ReadCloser
	scanner *bufio.Scanner
	acc     strings.Builder
	text    string
}

// ChatStream prepares a streaming completion for prompt. Streaming calls
// bypass the completion cache.
func (c *Client) ChatStream(ctx context.Context, prompt string, opts Options) *Stream {
	s := &Stream{ctx: ctx, client: c}
	payload, err := json.Marshal(buildRequest(prompt, opts, true))
	if err != nil {
		s.err = fmt.Errorf("marshal request: %w", err)
	}
	s.payload = payload
	return s
}

// Next advances to the next non-empty delta. It returns false once the
// server sends [DONE], the body ends, or the stream is closed.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		if s.err != nil {
			return s.fail(s.err)
		}
		if err := s.open(); err != nil {
			return s.fail(err)
		}
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.finish()
			return false
		}
		// Partial or malformed chunks are skipped.
		if !gjson.Valid(data) {
			continue
		}
		delta := gjson.Get(data, "choices.0.delta.content")
		if delta.Type != gjson.String || delta.Str == "" {
			continue
		}
		s.acc.WriteString(delta.Str)
		s.text = s.acc.String()
		return true
	}

	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() == nil {
			return s.fail(fmt.Errorf("read stream: %w", err))
		}
		// Abandoned by the caller.
		s.err = s.ctx.Err()
	}
	s.finish()
	return false
}

// Text returns the value produced by the last successful call to Next.
func (s *Stream) Text() string {
	return s.text
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close abandons the stream and releases the connection. It is safe to call
// more than once.
func (s *Stream) Close() error {
	s.started = true
	return s.finish()
}

// All adapts the stream to a range-over-func sequence. Breaking out of the
// loop closes the stream; the sequence cannot be replayed.
func (s *Stream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.text) {
				return
			}
		}
	}
}

func (s *Stream) open() error {
	resp, err := s.client.post(s.ctx, s.payload, true)
	if err != nil {
		return err
	}
	s.body = resp.Body
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	return nil
}

func (s *Stream) fail(err error) bool {
	s.err = err
	s.client.logger.Error("chat stream failed", "error", err)
	s.text = FormatError(err)
	s.finish()
	return true
}

func (s *Stream) finish() error {
	s.done = true
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
