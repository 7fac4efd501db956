package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/EstebanCanales/novack-edge/internal/logger"
	"github.com/EstebanCanales/novack-edge/internal/telemetry"
)

// backendErrorMessage is the fixed error text of the 502 envelope.
const backendErrorMessage = "Error al comunicarse con el backend"

// requestHopHeaders are inbound headers never forwarded to the backend.
var requestHopHeaders = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
}

// responseHopHeaders are backend headers never relayed to the caller.
var responseHopHeaders = map[string]bool{
	"connection":        true,
	"transfer-encoding": true,
}

// Config holds the forwarder configuration
type Config struct {
	// BackendOrigin is the absolute base URL of the external backend.
	BackendOrigin string
	// Timeout bounds a single relay end to end.
	Timeout time.Duration
}

// Forwarder relays requests received under the /api mount to the
// configured backend origin. It holds no per-request state.
type Forwarder struct {
	origin *url.URL
	client *http.Client
	log    *logger.Logger
}

// errorEnvelope is the fixed shape returned on transport failure.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New creates a Forwarder for the given backend origin
func New(cfg Config, log *logger.Logger) (*Forwarder, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	origin, err := url.Parse(strings.TrimRight(cfg.BackendOrigin, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend origin %q: %w", cfg.BackendOrigin, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("backend origin must be absolute http(s) URL: %q", cfg.BackendOrigin)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Forwarder{
		origin: origin,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			// Redirects are relayed to the caller, never followed here.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}, nil
}

// Handler returns the gin handler for the wildcard /api/*path mount.
func (f *Forwarder) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "gateway.relay")
		defer span.End()

		method := c.Request.Method
		span.SetAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", c.Request.URL.Path),
		)

		// Preflight is answered locally; the backend cannot respond to
		// it meaningfully for a same-origin mount.
		if method == http.MethodOptions {
			span.SetStatus(codes.Ok, "")
			f.writePreflight(c)
			return
		}

		target := f.resolveTarget(c.Param("backendPath"), c.Request.URL.RawQuery)
		span.SetAttributes(attribute.String("target.url", target))

		start := time.Now()
		resp, err := f.forward(ctx, c, target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			f.log.Warn("Relay failed",
				zap.String("method", method),
				zap.String("target", target),
				zap.String("cause", classifyFailure(err)),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, errorEnvelope{
				Error:   backendErrorMessage,
				Message: err.Error(),
			})
			return
		}
		defer resp.Body.Close()

		if err := f.relay(c, resp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			f.log.Warn("Relay response unreadable",
				zap.String("method", method),
				zap.String("target", target),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, errorEnvelope{
				Error:   backendErrorMessage,
				Message: err.Error(),
			})
			return
		}

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Ok, "")
		f.log.Info("Relay completed",
			zap.String("method", method),
			zap.String("target", target),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// resolveTarget joins the backend origin with the captured path and query.
func (f *Forwarder) resolveTarget(capturedPath, rawQuery string) string {
	if !strings.HasPrefix(capturedPath, "/") {
		capturedPath = "/" + capturedPath
	}
	target := f.origin.String() + capturedPath
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// forward performs the backend call with filtered headers and raw body.
func (f *Forwarder) forward(ctx context.Context, c *gin.Context, target string) (*http.Response, error) {
	var body io.Reader
	method := c.Request.Method
	if method != http.MethodGet && method != http.MethodHead && c.Request.Body != nil {
		// An unreadable or absent body must not abort the relay.
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil && len(raw) > 0 {
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	for key, values := range c.Request.Header {
		if requestHopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	return f.client.Do(req)
}

// relay writes the backend response to the caller with hop-by-hop
// headers stripped and the body re-encoded according to content type.
func (f *Forwarder) relay(c *gin.Context, resp *http.Response) error {
	var body []byte

	// 204 carries no body; writing one would corrupt the response.
	if resp.StatusCode != http.StatusNoContent {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read backend response: %w", err)
		}

		body = raw
		switch classify(resp.Header.Get("Content-Type")) {
		case kindJSON:
			// Re-serialize to guard against partial or chunked payloads.
			if len(raw) > 0 {
				var decoded interface{}
				if err := json.Unmarshal(raw, &decoded); err != nil {
					return fmt.Errorf("backend sent invalid JSON: %w", err)
				}
				if body, err = json.Marshal(decoded); err != nil {
					return fmt.Errorf("failed to re-encode backend JSON: %w", err)
				}
			}
		case kindText, kindBinary:
			// Passed through as-is; binary is never decoded as text.
		}
	}

	// Headers are written only once the body is known good, so a
	// failed relay can still fall back to the error envelope.
	header := c.Writer.Header()
	for key, values := range resp.Header {
		lower := strings.ToLower(key)
		if responseHopHeaders[lower] || lower == "content-length" {
			continue
		}
		for _, v := range values {
			header.Add(key, v)
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		c.Writer.WriteHeader(http.StatusNoContent)
		return nil
	}

	header.Set("Content-Length", strconv.Itoa(len(body)))
	c.Writer.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		if _, err := c.Writer.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// writePreflight answers an OPTIONS request without contacting the backend.
func (f *Forwarder) writePreflight(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
	header.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept, Authorization, X-Request-ID")
	c.Writer.WriteHeader(http.StatusNoContent)
}

// contentKind tags the relay strategy for a backend content type.
type contentKind int

const (
	kindJSON contentKind = iota
	kindText
	kindBinary
)

func classify(contentType string) contentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return kindJSON
	case strings.Contains(ct, "text/"):
		return kindText
	default:
		return kindBinary
	}
}

// classifyFailure names the transport failure for logging.
func classifyFailure(err error) string {
	switch {
	case isTimeoutError(err):
		return "timeout"
	case isConnectionError(err):
		return "connection"
	default:
		return "transport"
	}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	if err == context.DeadlineExceeded {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host")
}
