package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// post sends payload to the endpoint once the minimum spacing has elapsed,
// retrying transient failures with exponential backoff. A non-streaming
// response is fully buffered. A streaming response is returned with its body
// open; closing it releases the connection.
func (c *Client) post(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	attempt := 0
	for {
		resp, err := c.attempt(ctx, payload, stream)
		if err == nil {
			return resp, nil
		}
		attempt++
		if attempt > c.maxRetries || !isTransient(err) {
			return nil, err
		}
		delay := c.backoffDelay(attempt)
		c.logger.Warn("chat request failed, retrying",
			"attempt", attempt, "max_retries", c.maxRetries, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry wait: %w", err)
		}
	}
}

// attempt performs a single POST. For buffered calls the timeout covers the
// whole exchange. For streaming calls it covers the wait for response headers
// and then every read of the body.
//
// Error statuses fail streaming calls too, so transient ones are retried
// before any delta is yielded.
func (c *Client) attempt(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	expired := new(atomic.Bool)
	timer := time.AfterFunc(c.timeout, func() {
		expired.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		timedOut := !timer.Stop()
		cancel()
		return nil, c.classify(ctx, err, timedOut)
	}

	if stream && resp.StatusCode < http.StatusBadRequest {
		if !timer.Stop() {
			_ = resp.Body.Close()
			cancel()
			return nil, c.classify(ctx, context.DeadlineExceeded, true)
		}
		timer.Reset(c.timeout)
		resp.Body = &idleBody{
			ReadCloser: resp.Body,
			timer:      timer,
			timeout:    c.timeout,
			expired:    expired,
			cancel:     cancel,
		}
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	timedOut := !timer.Stop()
	cancel()
	if readErr != nil {
		return nil, c.classify(ctx, fmt.Errorf("read response: %w", readErr), timedOut)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newStatusError(resp, body)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// classify turns a failed round trip into a TransportError. Cancellation by
// the caller is passed through unchanged so it is never retried.
func (c *Client) classify(ctx context.Context, err error, timedOut bool) error {
	if ctx.Err() != nil {
		return fmt.Errorf("request canceled: %w", ctx.Err())
	}
	if timedOut {
		return &TransportError{
			Err:       fmt.Errorf("request timed out after %s: %w", c.timeout, err),
			Transient: true,
		}
	}
	if isConnectionError(err) {
		return &TransportError{Err: fmt.Errorf("connection failed: %w", err), Transient: true}
	}
	return &TransportError{Err: err}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// backoffDelay returns base^attempt seconds.
func (c *Client) backoffDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(c.backoffBase, float64(attempt)) * float64(time.Second))
}

// idleBody cancels the request when no data arrives within timeout.
type idleBody struct {
	io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	expired *atomic.Bool
	cancel  context.CancelFunc
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && b.timer.Stop() {
		b.timer.Reset(b.timeout)
	}
	if err != nil && err != io.EOF && b.expired.Load() {
		err = &TransportError{
			Err:       fmt.Errorf("stream idle for %s: %w", b.timeout, err),
			Transient: true,
		}
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
