// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build yzma

package llama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/jeranaias/cleanllm/internal/engine"
)

// pieceBufSize is large enough for any single token piece.
const pieceBufSize = 256

// =============================================================================
// BACKEND
// =============================================================================

// Backend loads GGUF models through llama.cpp.
type Backend struct {
	cfg     Config
	logger  *slog.Logger
	once    sync.Once
	initErr error
}

// NewBackend creates a backend. The shared libraries are loaded on first use.
func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg, logger: cfg.logger()}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return Name }

func (b *Backend) init() error {
	b.once.Do(func() {
		if b.cfg.LibPath == "" {
			b.initErr = fmt.Errorf("%w: engine.lib_path is not set", engine.ErrUnavailable)
			return
		}
		if err := llama.Load(b.cfg.LibPath); err != nil {
			b.initErr = fmt.Errorf("load llama.cpp libraries from %s: %w", b.cfg.LibPath, err)
			return
		}
		llama.Init()
		b.logger.Info("llama.cpp initialized",
			"lib_path", b.cfg.LibPath,
			"gpu_offload", llama.SupportsGpuOffload(),
			"devices", llama.GGMLBackendDeviceCount())
	})
	return b.initErr
}

// LoadModel loads the GGUF file at opts.Path with the requested offload.
func (b *Backend) LoadModel(ctx context.Context, opts engine.ModelOptions) (engine.Model, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !opts.CPUOnly() && !llama.SupportsGpuOffload() {
		return nil, errors.New("no GPU offload support in the loaded llama.cpp build")
	}

	params := llama.ModelDefaultParams()
	params.NGpuLayers = gpuLayers(opts.GPULayers)
	lm, err := llama.ModelLoadFromFile(opts.Path, params)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", opts.Path, err)
	}
	b.logger.Info("model loaded", "path", opts.Path, "gpu_layers", params.NGpuLayers)
	return &Model{path: opts.Path, lm: lm, logger: b.logger}, nil
}

// Close is a no-op; the libraries stay loaded for the life of the process.
func (b *Backend) Close() error { return nil }

// =============================================================================
// MODEL
// =============================================================================

// Model is a loaded GGUF model.
type Model struct {
	path   string
	lm     llama.Model
	logger *slog.Logger
	once   sync.Once
}

// Name returns the model path.
func (m *Model) Name() string { return m.path }

// NewContext creates the shared inference context.
func (m *Model) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := llama.ContextDefaultParams()
	params.Embeddings = 0
	params.NCtx = uint32(opts.Size)
	params.NBatch = uint32(opts.BatchSize)
	lctx, err := llama.InitFromModel(m.lm, params)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = opts.Size
	}
	return &Context{
		model:  m,
		lctx:   lctx,
		vocab:  llama.ModelGetVocab(m.lm),
		size:   opts.Size,
		batch:  batch,
		logger: m.logger,
	}, nil
}

// Close frees the model weights.
func (m *Model) Close() error {
	m.once.Do(func() { llama.ModelFree(m.lm) })
	return nil
}

// =============================================================================
// CONTEXT
// =============================================================================

// Context owns the llama.cpp context and its single sequence. Only the most
// recently created session may use it.
type Context struct {
	model  *Model
	lctx   llama.Context
	vocab  llama.Vocab
	size   int
	batch  int
	logger *slog.Logger

	mu     sync.Mutex
	active *Session
	nPast  int
	closed bool
}

// Size returns the capacity in tokens.
func (c *Context) Size() int { return c.size }

// Sequence returns the context itself; it exposes exactly one sequence.
func (c *Context) Sequence() engine.Sequence { return c }

// NewSession resets the KV memory and seeds a new session. Any previous
// session on this context is invalidated.
func (c *Context) NewSession(_ context.Context, opts engine.SessionOptions) (engine.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("context closed")
	}
	llama.MemoryClear(llama.GetMemory(c.lctx), true)
	c.nPast = 0
	s := &Session{ctx: c, pending: formatSeed(opts.SystemPrompt, opts.History)}
	c.active = s
	return s, nil
}

// Close frees the llama.cpp context.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.active = nil
	llama.Free(c.lctx)
	return nil
}

// decode feeds text into the context in batch-sized chunks. Caller holds mu.
func (c *Context) decode(text string) error {
	tokens := llama.Tokenize(c.vocab, text, c.nPast == 0, true)
	if c.nPast+len(tokens) >= c.size {
		return fmt.Errorf("%w: %d tokens in use, %d more requested, capacity %d",
			engine.ErrContextExceeded, c.nPast, len(tokens), c.size)
	}
	for start := 0; start < len(tokens); start += c.batch {
		end := min(start+c.batch, len(tokens))
		if _, err := llama.Decode(c.lctx, llama.BatchGetOne(tokens[start:end])); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		c.nPast += end - start
	}
	return nil
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a conversation bound to the shared context. It decodes its seed
// on the first prompt and only the new turn afterwards.
type Session struct {
	ctx      *Context
	pending  string
	disposed bool
}

// Prompt decodes the user turn and samples the reply.
func (s *Session) Prompt(ctx context.Context, text string, opts engine.PromptOptions, onToken func(string)) (answer string, err error) {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	// RELIABILITY: native panics must not take the process down
	var out strings.Builder
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("llama.cpp panic", "panic", r, "stack", string(debug.Stack()))
			answer, err = out.String(), fmt.Errorf("%w: panic: %v", engine.ErrStreaming, r)
		}
	}()

	if s.disposed || c.active != s {
		return "", fmt.Errorf("%w: session no longer bound to the context", engine.ErrStreaming)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := c.decode(s.pending + formatPrompt(text)); err != nil {
		if errors.Is(err, engine.ErrContextExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", engine.ErrStreaming, err)
	}
	// The assistant's end-of-turn is decoded with the next prompt.
	s.pending = closeReply()

	sp := llama.DefaultSamplerParams()
	applySampling(&sp, opts)
	sampler := llama.NewSampler(c.model.lm, llama.DefaultSamplers, sp)
	defer llama.SamplerFree(sampler)

	stops := newStopFilter(opts.Stop)
	emit := func(piece string) {
		if piece == "" {
			return
		}
		out.WriteString(piece)
		if onToken != nil {
			onToken(piece)
		}
	}

	buf := make([]byte, pieceBufSize)
	for i := 0; opts.MaxTokens <= 0 || i < opts.MaxTokens; i++ {
		if err := ctx.Err(); err != nil {
			emit(stops.flush())
			return out.String(), err
		}

		tok := llama.SamplerSample(sampler, c.lctx, -1)
		if llama.VocabIsEOG(c.vocab, tok) {
			break
		}
		n := llama.TokenToPiece(c.vocab, tok, buf, 0, true)
		if n > 0 {
			piece, stopped := stops.push(string(buf[:n]))
			emit(piece)
			if stopped {
				return out.String(), nil
			}
		}

		if c.nPast+1 >= c.size {
			emit(stops.flush())
			return out.String(), fmt.Errorf("%w: reply reached capacity %d", engine.ErrContextExceeded, c.size)
		}
		if _, err := llama.Decode(c.lctx, llama.BatchGetOne([]llama.Token{tok})); err != nil {
			emit(stops.flush())
			return out.String(), fmt.Errorf("%w: decode at token %d: %w", engine.ErrStreaming, i, err)
		}
		c.nPast++
	}
	emit(stops.flush())
	return out.String(), nil
}

// Dispose detaches the session. The context and its sequence stay alive.
func (s *Session) Dispose() error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	s.disposed = true
	if c.active == s {
		c.active = nil
	}
	return nil
}

// applySampling copies the request's sampling settings over the library
// defaults. A zero repeat penalty keeps the default.
func applySampling(sp *llama.SamplerParams, opts engine.PromptOptions) {
	sp.Temp = float32(opts.Temperature)
	sp.TopK = int32(opts.TopK)
	sp.TopP = float32(opts.TopP)
	if opts.RepeatPenalty > 0 {
		sp.PenaltyRepeat = float32(opts.RepeatPenalty)
	}
}
