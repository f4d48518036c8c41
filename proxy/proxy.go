// Package proxy provides an Ollama-compatible gateway that serves chat and
// generate requests from remote OpenAI-compatible chat completion endpoints,
// reframing their SSE streams into Ollama NDJSON as they arrive.
package proxy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/papercomputeco/lumos/pkg/eventstream"
	"github.com/papercomputeco/lumos/pkg/eventstream/nop"
	"github.com/papercomputeco/lumos/pkg/ollama"
	"github.com/papercomputeco/lumos/pkg/provider"
	"github.com/papercomputeco/lumos/pkg/utils"
	"github.com/papercomputeco/lumos/proxy/header"
	"github.com/papercomputeco/lumos/proxy/worker"
)

const (
	contentTypeNDJSON = "application/x-ndjson"

	requestIDLocal = "requestid"
)

// Resolver maps the model names clients send to configured upstreams.
type Resolver interface {
	Lookup(name string) (provider.Entry, error)
	Default() string
	Names() []string
}

// Proxy is an Ollama-shaped HTTP server in front of remote chat completion
// APIs. Each chat or generate request is resolved to one upstream, forwarded,
// and the upstream's SSE reply is streamed back as NDJSON records.
type Proxy struct {
	config        Config
	resolver      Resolver
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
}

// inbound is a decoded chat or generate request.
type inbound struct {
	model     string
	messages  []ollama.Message
	options   map[string]any
	streaming bool
	shape     ollama.Shape
}

// New creates a new Proxy.
func New(config Config, resolver Resolver, logger *slog.Logger) (*Proxy, error) {
	if resolver == nil {
		return nil, errors.New("model resolver is required")
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher:  publisher,
		NumWorkers: config.Workers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		AppName:               "lumos",
	})

	// Ollama serves browser clients from any origin.
	app.Use(cors.New())
	app.Use(requestid.New(requestid.Config{
		Header:     header.RequestIDHeader,
		Generator:  uuid.NewString,
		ContextKey: requestIDLocal,
	}))

	p := &Proxy{
		config:        config,
		resolver:      resolver,
		workerPool:    wp,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		httpClient: &http.Client{
			Timeout: config.UpstreamTimeout,
		},
	}

	app.Get("/", p.handleRoot)
	app.Get("/api/tags", p.handleTags)
	app.Get("/api/ping", p.handlePing)
	app.Get("/api/version", p.handleVersion)
	app.Post("/api/chat", p.handleChat)
	app.Post("/api/generate", p.handleGenerate)

	return p, nil
}

// Run starts the gateway on the configured listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting gateway",
		"listen", p.config.ListenAddr,
		"default_model", p.resolver.Default(),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the gateway using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting gateway",
		"listen", listener.Addr().String(),
		"default_model", p.resolver.Default(),
	)

	return p.server.Listener(listener)
}

// Close stops the HTTP server, then drains the telemetry worker pool.
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.workerPool.Close()
	return err
}

func (p *Proxy) handleRoot(c *fiber.Ctx) error {
	return c.SendString("Ollama is running")
}

func (p *Proxy) handleTags(c *fiber.Ctx) error {
	now := time.Now()
	names := p.resolver.Names()

	models := make([]ollama.Model, 0, len(names))
	for _, name := range names {
		models = append(models, ollama.NewModel(provider.DisplayName(name), randomDigest(), now))
	}

	return c.JSON(ollama.TagsResponse{Models: models})
}

func (p *Proxy) handlePing(c *fiber.Ctx) error {
	return c.JSON(ollama.PingResponse{ModelName: p.resolver.Default()})
}

func (p *Proxy) handleVersion(c *fiber.Ctx) error {
	return c.JSON(ollama.VersionResponse{Version: utils.Version})
}

func (p *Proxy) handleChat(c *fiber.Ctx) error {
	var req ollama.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, fmt.Errorf("invalid request body: %w", err))
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	return p.serve(c, inbound{
		model:     req.Model,
		messages:  req.Messages,
		options:   req.Options,
		streaming: req.Streaming(),
		shape:     ollama.Chat,
	})
}

func (p *Proxy) handleGenerate(c *fiber.Ctx) error {
	var req ollama.GenerateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, fmt.Errorf("invalid request body: %w", err))
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	return p.serve(c, inbound{
		model:     req.Model,
		messages:  req.Messages(),
		options:   req.Options,
		streaming: req.Streaming(),
		shape:     ollama.Generate,
	})
}

// serve resolves the model, dispatches upstream and replies either with an
// NDJSON stream or, for non-streaming requests, one aggregated record. Every
// failure before the first record is a single JSON error reply.
func (p *Proxy) serve(c *fiber.Ctx, in inbound) error {
	entry, err := p.resolver.Lookup(in.model)
	if errors.Is(err, provider.ErrModelNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ollama.ErrorResponse{
			Error: fmt.Sprintf("model %q not found", in.model),
		})
	}
	if err != nil {
		p.logger.Error("resolving model", "model", in.model, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ollama.ErrorResponse{Error: "internal error"})
	}

	// Records carry the client's own model string; an omitted model is
	// reported under the default's registry key.
	model := in.model
	if model == "" {
		model = entry.Name
	}

	// The requestid middleware keeps a client supplied id as an unsafe view of
	// the fasthttp header buffer, which the next keep-alive request reuses.
	requestID, _ := c.Locals(requestIDLocal).(string)
	requestID = strings.Clone(requestID)
	info := streamInfo{
		entry:     entry,
		requestID: requestID,
		path:      strings.Clone(c.Path()),
		shape:     in.shape,
		streaming: in.streaming,
		startedAt: time.Now(),
		logger: p.logger.With(
			"request_id", requestID,
			"model", entry.Name,
			"provider", string(entry.Provider),
		),
	}

	// The upstream exchange outlives this handler when streaming: fasthttp
	// recycles its RequestCtx once the handler returns, so the upstream
	// context must not derive from it.
	ctx, cancel := context.WithCancel(context.Background())

	info.logger.Debug("forwarding request to upstream",
		"url", entry.URL,
		"upstream_model", entry.UpstreamModel(),
		"shape", in.shape.String(),
		"streaming", in.streaming,
	)

	resp, err := p.dispatch(ctx, c, entry, in, requestID)
	if err != nil {
		cancel()
		p.report(info, StreamStats{}, err)

		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			info.logger.Error("upstream rejected request",
				"status", upErr.StatusCode,
				"body", utils.Truncate(upErr.Body, 512),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(ollama.ErrorResponse{Error: upErr.Error()})
		}

		info.logger.Error("upstream request failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(ollama.ErrorResponse{
			Error: fmt.Sprintf("upstream request failed: %v", err),
		})
	}

	p.headerHandler.SetClientResponseHeaders(c, resp)
	enc := ollama.NewEncoder(model, in.shape)
	stream := NewStream(resp.Body, enc, info.logger)

	if !in.streaming {
		defer cancel()
		defer resp.Body.Close()
		return p.serveAggregated(c, stream, enc, info)
	}

	c.Set(fiber.HeaderContentType, contentTypeNDJSON)

	// Use io.Pipe + SetBodyStream instead of SetBodyStreamWriter.
	// SetBodyStreamWriter buffers through an internal pipe and bufio.Writers, so
	// a Flush in the callback does not reach the TCP socket. With io.Pipe,
	// pw.Write blocks until fasthttp's chunked body writer has consumed the
	// record and flushed it, which gives per-record streaming and backpressure
	// all the way to the upstream read.
	pr, pw := io.Pipe()
	go p.pump(stream, resp.Body, pw, cancel, info)

	// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// serveAggregated drains the stream and replies with one done record holding
// the whole text.
func (p *Proxy) serveAggregated(c *fiber.Ctx, stream *Stream, enc *ollama.Encoder, info streamInfo) error {
	text, err := stream.Collect()
	if err != nil {
		p.report(info, stream.Stats(), err)
		info.logger.Error("upstream stream interrupted", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(ollama.ErrorResponse{
			Error: fmt.Sprintf("upstream stream interrupted: %v", err),
		})
	}

	line, err := enc.Final(text)
	if err != nil {
		p.report(info, stream.Stats(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(ollama.ErrorResponse{Error: "internal error"})
	}

	stats := stream.Stats()
	stats.Records = 1
	p.report(info, stats, nil)

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(line)
}

// pump copies records into the pipe until the stream ends. A client that goes
// away closes the pipe reader, which fails the next write; the upstream
// request is then cancelled and its body closed so no work outlives the
// client.
func (p *Proxy) pump(stream *Stream, body io.Closer, pw *io.PipeWriter, cancel context.CancelFunc, info streamInfo) {
	defer cancel()
	defer body.Close()

	_, err := stream.WriteTo(pw)
	switch {
	case err == nil:
		_ = pw.Close()
		info.logger.Debug("stream complete",
			"records", stream.Stats().Records,
			"terminated", stream.Stats().Terminated,
			"duration", time.Since(info.startedAt),
		)
	case errors.Is(err, io.ErrClosedPipe):
		info.logger.Debug("client disconnected", "records", stream.Stats().Records)
	default:
		_ = pw.CloseWithError(err)
		info.logger.Error("stream interrupted", "error", err)
	}

	p.report(info, stream.Stats(), err)
}

// streamInfo is the per-request context telemetry needs once the handler has
// returned. Every string in it is copied out of the recycled fiber context.
type streamInfo struct {
	entry     provider.Entry
	requestID string
	path      string
	shape     ollama.Shape
	streaming bool
	startedAt time.Time
	logger    *slog.Logger
}

// report enqueues a completion event without blocking the caller.
func (p *Proxy) report(info streamInfo, stats StreamStats, err error) {
	outcome := eventstream.StreamOutcome{
		Records:    stats.Records,
		Deltas:     stats.Deltas,
		Terminated: stats.Terminated,
	}
	if err != nil {
		outcome.Error = err.Error()
	}

	event := eventstream.NewStreamCompletedEvent(
		eventstream.EventSource{
			Provider:      string(info.entry.Provider),
			Model:         info.entry.Name,
			UpstreamModel: info.entry.UpstreamModel(),
		},
		eventstream.StreamRequestMeta{
			RequestID:   info.requestID,
			Path:        info.path,
			Shape:       info.shape.String(),
			Streaming:   info.streaming,
			StartedAt:   info.startedAt,
			CompletedAt: time.Now(),
		},
		outcome,
	)

	p.workerPool.Enqueue(worker.Job{Event: event})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(ollama.ErrorResponse{Error: err.Error()})
}

// randomDigest fakes the content digest Ollama lists for local weights.
func randomDigest() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return "sha256:" + hex.EncodeToString(b)
}
