package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/orchestrator"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/personas"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/models"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/redis"
)

// Admitter is the client admission check
type Admitter interface {
	Admit(ctx context.Context, clientID string) bool
	RetryAfter() time.Duration
}

// Generator produces text for a fully built prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (*orchestrator.Result, error)
}

// PersonaLookup resolves character names to instruction blocks
type PersonaLookup interface {
	Lookup(name string) (string, bool)
	Names() []string
}

// ResponseCache is an exact-match response cache
type ResponseCache interface {
	Get(ctx context.Context, provider, prompt string, cfg providers.GenerationConfig) (*cache.Entry, error)
	Set(ctx context.Context, provider, prompt string, cfg providers.GenerationConfig, response string) error
}

// GenerationRecorder persists request outcomes
type GenerationRecorder interface {
	LogGeneration(ctx context.Context, log *models.GenerationLog) error
}

// Options tunes a ChatHandler. Cache and Recorder are optional.
type Options struct {
	Development bool
	Provider    string
	Generation  providers.GenerationConfig
	Cache       ResponseCache
	Recorder    GenerationRecorder
}

type chatRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	Character string `json:"character" validate:"required"`
}

type ventRequest struct {
	VentText  string `json:"ventText" validate:"required"`
	Character string `json:"character" validate:"required"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

// endpointCopy is the in-character wording of one endpoint
type endpointCopy struct {
	path             string
	missingFields    string
	admissionDenied  string
	overwhelmed      string
	overwhelmedRetry int
	exhausted        string
	exhaustedRetry   int
	internal         string
	showDetails      bool
}

var chatCopy = endpointCopy{
	path:             "/generate",
	missingFields:    "Prompt and character are required",
	admissionDenied:  "Please wait a moment before sending another message. I need to catch my breath! 💭",
	overwhelmed:      "I'm feeling a bit overwhelmed right now. Please give me a minute to recharge! ⚡",
	overwhelmedRetry: 90,
	exhausted:        "All my thinking circuits are busy right now. Please try again in a moment! 🧠",
	exhaustedRetry:   120,
	internal:         "Something went wrong on my end. Please try again!",
	showDetails:      true,
}

var ventCopy = endpointCopy{
	path:             "/generate-vent",
	missingFields:    "Vent text and character are required",
	admissionDenied:  "Please wait a moment before trying again. Taking some time to process... 💭",
	overwhelmed:      "I need a moment to gather my thoughts. Please try again shortly. 🌙",
	overwhelmedRetry: 60,
	exhausted:        "I need a moment to gather my thoughts. Please try again shortly. 🌙",
	exhaustedRetry:   60,
	internal:         "Something went wrong. Please try again!",
}

var validate = validator.New()

type ChatHandler struct {
	limiter   Admitter
	generator Generator
	personas  PersonaLookup
	logger    *zap.Logger
	opts      Options
}

func NewChatHandler(limiter Admitter, generator Generator, personas PersonaLookup, logger *zap.Logger, opts Options) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		limiter:   limiter,
		generator: generator,
		personas:  personas,
		logger:    logger,
		opts:      opts,
	}
}

// HandleGenerate handles POST /generate
func (h *ChatHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, failure.New(failure.Validation, chatCopy.missingFields), chatCopy)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.fail(w, failure.New(failure.Validation, "Please enter a message"), chatCopy)
		return
	}

	h.serve(w, r, chatCopy, req.Character, func(instruction string) string {
		return personas.ChatPrompt(instruction, req.Prompt)
	})
}

// HandleGenerateVent handles POST /generate-vent
func (h *ChatHandler) HandleGenerateVent(w http.ResponseWriter, r *http.Request) {
	var req ventRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.fail(w, failure.New(failure.Validation, ventCopy.missingFields), ventCopy)
		return
	}

	h.serve(w, r, ventCopy, req.Character, func(string) string {
		return personas.VentPrompt(req.Character, req.VentText)
	})
}

// HandleCharacters handles GET /characters
func (h *ChatHandler) HandleCharacters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"characters": h.personas.Names()})
}

func (h *ChatHandler) serve(w http.ResponseWriter, r *http.Request, ec endpointCopy, character string, buildPrompt func(instruction string) string) {
	ctx := r.Context()
	start := time.Now()
	clientIP := ClientIP(r)

	if !h.limiter.Admit(ctx, clientIP) {
		fe := failure.New(failure.ClientRateLimited, ec.admissionDenied)
		fe.RetryAfter = h.limiter.RetryAfter()
		h.fail(w, fe, ec)
		return
	}

	instruction, ok := h.personas.Lookup(character)
	if !ok {
		h.logger.Info("character not found", zap.String("character", character))
		h.fail(w, failure.New(failure.Validation, "Character not found"), ec)
		return
	}

	prompt := buildPrompt(instruction)
	entry := &models.GenerationLog{
		Endpoint:  ec.path,
		Character: character,
		ClientIP:  clientIP,
		Provider:  h.opts.Provider,
	}

	if text, hit := h.cached(ctx, prompt); hit {
		entry.CacheHit = true
		entry.StatusCode = http.StatusOK
		h.record(entry, start)
		writeJSON(w, http.StatusOK, generateResponse{Response: text})
		return
	}

	h.logger.Info("generating response", zap.String("endpoint", ec.path), zap.String("character", character))
	res, err := h.generator.Generate(ctx, prompt)
	if err != nil {
		status, body := failureResponse(err, ec, h.opts.Development)
		kind := failure.KindOf(err).String()
		entry.StatusCode = status
		entry.FailureKind = &kind
		var fe *failure.Error
		if errors.As(err, &fe) {
			entry.Attempts = fe.Attempts
		}
		h.record(entry, start)

		h.logger.Error("generation failed",
			zap.String("endpoint", ec.path),
			zap.String("client", clientIP),
			zap.Int("status", status),
			zap.Error(err))
		writeJSON(w, status, body)
		return
	}

	entry.Provider = res.Provider
	entry.Attempts = res.Attempts
	entry.StatusCode = http.StatusOK
	h.record(entry, start)
	h.store(ctx, prompt, res.Text)

	h.logger.Info("response generated successfully",
		zap.String("endpoint", ec.path),
		zap.Int("attempts", res.Attempts),
		zap.Int("key_index", res.CredentialIndex))
	writeJSON(w, http.StatusOK, generateResponse{Response: res.Text})
}

// fail writes a failure raised before generation
func (h *ChatHandler) fail(w http.ResponseWriter, fe *failure.Error, ec endpointCopy) {
	status, body := failureResponse(fe, ec, h.opts.Development)
	writeJSON(w, status, body)
}

// failureResponse maps a classified failure to the endpoint's status and copy
func failureResponse(err error, ec endpointCopy, development bool) (int, errorResponse) {
	var fe *failure.Error
	errors.As(err, &fe)

	switch failure.KindOf(err) {
	case failure.Validation:
		return http.StatusBadRequest, errorResponse{Error: fe.Message}
	case failure.ClientRateLimited:
		return http.StatusTooManyRequests, errorResponse{Error: fe.Message, RetryAfter: retryAfterSeconds(fe.RetryAfter)}
	case failure.TransientRateLimit, failure.PermanentQuota:
		return http.StatusTooManyRequests, errorResponse{Error: ec.overwhelmed, RetryAfter: ec.overwhelmedRetry}
	case failure.Exhausted:
		return http.StatusTooManyRequests, errorResponse{Error: ec.exhausted, RetryAfter: ec.exhaustedRetry}
	default:
		body := errorResponse{Error: ec.internal}
		if development && ec.showDetails {
			body.Details = err.Error()
		}
		return http.StatusInternalServerError, body
	}
}

func (h *ChatHandler) cached(ctx context.Context, prompt string) (string, bool) {
	if h.opts.Cache == nil {
		return "", false
	}
	entry, err := h.opts.Cache.Get(ctx, h.opts.Provider, prompt, h.opts.Generation)
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			h.logger.Warn("cache lookup failed", zap.Error(err))
		}
		return "", false
	}
	return entry.Response, true
}

func (h *ChatHandler) store(ctx context.Context, prompt, text string) {
	if h.opts.Cache == nil {
		return
	}
	if err := h.opts.Cache.Set(ctx, h.opts.Provider, prompt, h.opts.Generation, text); err != nil {
		h.logger.Warn("cache store failed", zap.Error(err))
	}
}

// record writes the log row asynchronously to avoid blocking the response
func (h *ChatHandler) record(entry *models.GenerationLog, start time.Time) {
	if h.opts.Recorder == nil {
		return
	}
	entry.LatencyMs = int(time.Since(start).Milliseconds())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.opts.Recorder.LogGeneration(ctx, entry); err != nil {
			h.logger.Warn("failed to record generation", zap.Error(err))
		}
	}()
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
