package openai

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/topic-finder/internal/config"
)

// openAIMiddleware annotates the active span with the response status and,
// when enabled, the raw request and response bodies.
func openAIMiddleware(cfg config.OpenAIOTelEnvConfig) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		span := trace.SpanFromContext(req.Context())
		capture := cfg.CaptureBodies && span.IsRecording()

		if capture && req.Body != nil {
			req.Body = newCaptureReadCloser(req.Body, cfg.MaxBodyBytes, func(body []byte, truncated bool) {
				recordBody(span, "input", "openai.request.body", body, truncated,
					attribute.String("http.method", req.Method),
					attribute.String("http.url", req.URL.String()),
				)
			})
		}

		res, err := next(req)
		if err != nil || res == nil {
			return res, err
		}

		if span.IsRecording() {
			span.AddEvent("openai.response.meta", trace.WithAttributes(
				attribute.Int("http.status_code", res.StatusCode),
			))
		}
		if capture && res.Body != nil {
			res.Body = newCaptureReadCloser(res.Body, cfg.MaxBodyBytes, func(body []byte, truncated bool) {
				recordBody(span, "output", "openai.response.body", body, truncated,
					attribute.Int("http.status_code", res.StatusCode),
				)
			})
		}
		return res, nil
	}
}

func recordBody(span trace.Span, direction, event string, body []byte, truncated bool, extra ...attribute.KeyValue) {
	bodyStr := bytesToString(body)
	span.SetAttributes(
		attribute.String(direction+".mime_type", "application/json"),
		attribute.String(direction+".value", bodyStr),
		attribute.Bool(direction+".truncated", truncated),
		attribute.String(event, bodyStr),
		attribute.Bool(event+".truncated", truncated),
	)
	attrs := append([]attribute.KeyValue{
		attribute.String("body", bodyStr),
		attribute.Bool("truncated", truncated),
	}, extra...)
	span.AddEvent(event, trace.WithAttributes(attrs...))
}

// captureReadCloser copies up to maxBytes of a body as it is read and hands the
// copy to onClose. A negative maxBytes captures everything; zero captures nothing.
type captureReadCloser struct {
	rc          io.ReadCloser
	maxBytes    int
	buf         bytes.Buffer
	truncated   bool
	onCloseOnce sync.Once
	onClose     func([]byte, bool)
}

func newCaptureReadCloser(rc io.ReadCloser, maxBytes int, onClose func([]byte, bool)) io.ReadCloser {
	if rc == nil {
		return rc
	}
	return &captureReadCloser{rc: rc, maxBytes: maxBytes, onClose: onClose}
}

func (c *captureReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 && c.maxBytes != 0 {
		c.keep(p[:n])
	}
	return n, err
}

func (c *captureReadCloser) keep(chunk []byte) {
	if c.maxBytes < 0 {
		_, _ = c.buf.Write(chunk)
		return
	}
	remaining := c.maxBytes - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return
	}
	if remaining < len(chunk) {
		chunk = chunk[:remaining]
		c.truncated = true
	}
	_, _ = c.buf.Write(chunk)
}

func (c *captureReadCloser) Close() error {
	c.onCloseOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(c.buf.Bytes(), c.truncated)
		}
	})
	return c.rc.Close()
}

func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}
