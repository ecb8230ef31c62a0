package cloudcode

import (
	"context"
	"time"

	"github.com/poemonsense/cloudcode-relay/internal/format"
	"github.com/poemonsense/cloudcode-relay/internal/metrics"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

// syntheticFallbackText is streamed when every recovery attempt produced an
// empty response.
const syntheticFallbackText = "[No response after retries - please try again]"

// SendMessageStream dispatches a streaming request. Events arrive on the
// first channel; a terminal error, if any, on the second after the event
// channel closes. Empty upstream streams are retried with backoff and
// ultimately replaced by a short synthetic stream so the client always
// receives a well-formed message.
func (d *Dispatcher) SendMessageStream(ctx context.Context, req *anthropic.MessagesRequest) (<-chan *anthropic.SSEEvent, <-chan error) {
	events := make(chan *anthropic.SSEEvent, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		start := time.Now()
		defer func() {
			metrics.RequestDuration.WithLabelValues(req.Model, "true").Observe(time.Since(start).Seconds())
		}()

		greq := format.ConvertRequest(req)

		err := d.streamOnce(ctx, req.Model, greq, events)
		if err != nil {
			if fb := d.fallbackFor(req.Model, err); fb != "" {
				utils.Warn("[Dispatch] All accounts limited for %s, falling back to %s", req.Model, fb)
				metrics.ModelFallbacks.WithLabelValues(req.Model, fb).Inc()
				err = d.streamOnce(ctx, fb, greq, events)
			}
		}
		if err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

// streamOnce runs the outer dispatch loop for a streaming request.
func (d *Dispatcher) streamOnce(ctx context.Context, model string, greq *format.GoogleRequest, events chan<- *anthropic.SSEEvent) error {
	return d.run(ctx, model, func(ctx context.Context, acc *redis.Account) error {
		return d.streamAttempt(ctx, acc, model, greq, events)
	})
}

// streamAttempt tries one account, recovering from empty upstream streams in
// place. A 429 or auth failure during recovery escalates to the outer loop
// so a different account gets a chance.
func (d *Dispatcher) streamAttempt(ctx context.Context, acc *redis.Account, model string, greq *format.GoogleRequest, events chan<- *anthropic.SSEEvent) error {
	for retry := 0; ; retry++ {
		resp, err := d.doAttempt(ctx, acc, model, greq, true)
		if err != nil {
			return err
		}

		emitted, streamErr := relayUpstreamSSE(ctx, resp.Body, model, events)
		resp.Body.Close()

		if streamErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if emitted {
				// Events already reached the client; a replay would corrupt
				// the stream, so the truncation is only logged.
				utils.Error("[Dispatch] Stream interrupted after partial output: %v", streamErr)
				return nil
			}
			return streamErr
		}
		if emitted {
			return nil
		}

		if retry >= d.cfg.Dispatch.MaxEmptyResponseRetries {
			utils.Error("[Dispatch] Empty response from %s after %d retries, sending fallback",
				utils.MaskEmail(acc.Email), retry)
			return d.sendSyntheticStream(ctx, model, events)
		}

		metrics.EmptyResponseRetries.Inc()
		backoff := d.cfg.Dispatch.EmptyResponseBackoffMs << retry
		utils.Warn("[Dispatch] Empty response from %s, retry %d/%d in %dms",
			utils.MaskEmail(acc.Email), retry+1, d.cfg.Dispatch.MaxEmptyResponseRetries, backoff)
		if err := utils.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

// sendSyntheticStream emits a minimal well-formed message so clients that
// cannot handle a bare error still terminate cleanly.
func (d *Dispatcher) sendSyntheticStream(ctx context.Context, model string, events chan<- *anthropic.SSEEvent) error {
	send := func(ev *anthropic.SSEEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	seq := []*anthropic.SSEEvent{
		{
			Type: "message_start",
			Data: map[string]interface{}{
				"type": "message_start",
				"message": map[string]interface{}{
					"id":            "msg_" + streamHex(16),
					"type":          "message",
					"role":          "assistant",
					"model":         model,
					"content":       []interface{}{},
					"stop_reason":   nil,
					"stop_sequence": nil,
					"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
				},
			},
		},
		{
			Type: "content_block_start",
			Data: map[string]interface{}{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			},
		},
		{
			Type: "content_block_delta",
			Data: map[string]interface{}{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]interface{}{
					"type": "text_delta",
					"text": syntheticFallbackText,
				},
			},
		},
		{
			Type: "content_block_stop",
			Data: map[string]interface{}{
				"type":  "content_block_stop",
				"index": 0,
			},
		},
		{
			Type: "message_delta",
			Data: map[string]interface{}{
				"type": "message_delta",
				"delta": map[string]interface{}{
					"stop_reason":   "end_turn",
					"stop_sequence": nil,
				},
				"usage": map[string]int{"output_tokens": 0},
			},
		},
		{
			Type: "message_stop",
			Data: map[string]interface{}{"type": "message_stop"},
		},
	}

	for _, ev := range seq {
		if err := send(ev); err != nil {
			return err
		}
	}
	return nil
}
