package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/observability"
	"github.com/lexiqai/callagent/internal/resilience"
	"github.com/rs/zerolog/log"
)

// messageCallbackHandler implements the LiveMessageCallback interface,
// embedding the SDK's default handler for methods we don't override.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
	openHandler  func()
	closeHandler func()
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

func (m *messageCallbackHandler) Open(or *msginterfaces.OpenResponse) error {
	if m.openHandler != nil {
		m.openHandler()
	}
	return m.DefaultCallbackHandler.Open(or)
}

func (m *messageCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	if m.closeHandler != nil {
		m.closeHandler()
	}
	return m.DefaultCallbackHandler.Close(cr)
}

// reconnectCap and rateLimitCooldown implement §4.D's policy constants not
// already carried on Config: the reconnect backoff's ceiling and the
// rate-limit cooldown window. The backoff schedule itself (2s, 4s, 8s, max
// 3 attempts) comes from cfg.ReconnectBackoff/cfg.ReconnectMaxAttempts via
// resilience.Reconnect, the same config-driven helper the teacher fed from
// these two fields.
const (
	rateLimitCooldown = 10 * time.Second
	reconnectCap      = 10 * time.Second
)

// DeepgramClient implements STTClient using Deepgram's streaming API.
type DeepgramClient struct {
	config *config.Config
	client *listenClient.WSCallback

	results chan *Result

	mu       sync.RWMutex
	isActive bool
	fatal    bool
	cooldown time.Time

	ctx    context.Context
	cancel context.CancelFunc

	circuitBreaker *resilience.CircuitBreaker
}

func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	maxFailures := 5
	resetTimeout := 30 * time.Second
	if cfg != nil {
		if cfg.CircuitBreakerMaxFailures > 0 {
			maxFailures = cfg.CircuitBreakerMaxFailures
		}
		if cfg.CircuitBreakerResetTimeout > 0 {
			resetTimeout = time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
		}
	}

	return &DeepgramClient{
		config:         cfg,
		results:        make(chan *Result, 100),
		ctx:            ctx,
		cancel:         cancel,
		circuitBreaker: resilience.NewCircuitBreaker("deepgram", maxFailures, resetTimeout),
	}
}

// Start begins a new Deepgram streaming transcription session, configured
// per §6: model, language, mulaw/8000/mono, smart formatting, interim
// results, endpointing ~500ms, utterance-end ~1500ms, keepalive on.
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}
	if d.fatal {
		return fmt.Errorf("deepgram client is in a fatal state (auth failure)")
	}
	if time.Now().Before(d.cooldown) {
		return fmt.Errorf("deepgram client is in rate-limit cooldown")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Endpointing:    "500",
		UtteranceEndMs: "1500",
		VadEvents:      true,
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     8000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler:           d.handleError,
		openHandler: func() {
			d.mu.Lock()
			d.isActive = true
			d.mu.Unlock()
			d.emit(&Result{Kind: KindOpen})
		},
		closeHandler: func() {
			d.mu.Lock()
			d.isActive = false
			d.mu.Unlock()
			d.emit(&Result{Kind: KindClose})
		},
	}

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.config.DeepgramAPIKey, cOptions, tOptions, callback)
	if err != nil {
		d.circuitBreaker.RecordResult(false)
		observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
		observability.IncrementCircuitBreakerFailures("deepgram")
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true
	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	log.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("deepgram streaming client started")
	return nil
}

func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.emit(&Result{Kind: KindMetadata})
	case "UtteranceEnd":
		d.emit(&Result{Kind: KindUtteranceEnd})
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		kind := KindInterim
		if msg.IsFinal {
			kind = KindIsFinalSegment
		}
		if msg.SpeechFinal {
			kind = KindSpeechFinal
		}

		d.emit(&Result{
			Text:       alt.Transcript,
			Kind:       kind,
			Confidence: alt.Confidence,
			StartTime:  msg.Start,
			Duration:   msg.Duration,
		})
	}
}

func (d *DeepgramClient) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	msg := fmt.Sprintf("%+v", errorResponse)
	log.Error().Str("error", msg).Msg("deepgram error")

	switch classifyDeepgramError(msg) {
	case errKindAuth:
		d.mu.Lock()
		d.fatal = true
		d.isActive = false
		d.mu.Unlock()
		d.emit(&Result{Kind: KindError, Text: "auth"})

	case errKindRateLimit:
		d.mu.Lock()
		d.isActive = false
		d.cooldown = time.Now().Add(rateLimitCooldown)
		d.mu.Unlock()
		d.emit(&Result{Kind: KindError, Text: "rate-limit"})

	default:
		d.mu.Lock()
		d.isActive = false
		d.mu.Unlock()
		d.emit(&Result{Kind: KindError, Text: "transient"})
		go d.attemptReconnect()
	}

	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures("deepgram")
	return nil
}

type dgErrKind int

const (
	errKindTransient dgErrKind = iota
	errKindAuth
	errKindRateLimit
)

func classifyDeepgramError(msg string) dgErrKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden"):
		return errKindAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return errKindRateLimit
	default:
		return errKindTransient
	}
}

// attemptReconnect implements §4.D's transient-network policy (exponential
// backoff 2s, 4s, 8s, capped at 10s, max 3 attempts) via the shared
// resilience.Reconnect helper, fed from cfg.ReconnectBackoff/ReconnectMaxAttempts
// the same way the teacher's attemptReconnect built its ReconnectConfig.
func (d *DeepgramClient) attemptReconnect() {
	d.mu.RLock()
	fatal := d.fatal
	d.mu.RUnlock()
	if fatal {
		return
	}

	reconnectConfig := reconnectConfigFor(d.config)

	err := resilience.Reconnect(d.ctx, func() error {
		d.mu.RLock()
		fatal := d.fatal
		d.mu.RUnlock()
		if fatal {
			return fmt.Errorf("deepgram client is in a fatal state (auth failure)")
		}
		return d.Start()
	}, reconnectConfig)

	if err != nil {
		log.Error().Err(err).Int("attempts", reconnectConfig.MaxAttempts).Msg("deepgram reconnect exhausted")
		return
	}
	log.Info().Msg("deepgram reconnect succeeded")
}

// reconnectConfigFor builds the §4.D reconnect policy (exponential backoff
// 2s, 4s, 8s, capped at 10s, max 3 attempts by default) from cfg's
// ReconnectBackoff/ReconnectMaxAttempts fields, falling back to those exact
// defaults when cfg is nil or leaves them unset.
func reconnectConfigFor(cfg *config.Config) *resilience.ReconnectConfig {
	maxAttempts := 3
	initialBackoff := 2 * time.Second
	if cfg != nil {
		if cfg.ReconnectMaxAttempts > 0 {
			maxAttempts = cfg.ReconnectMaxAttempts
		}
		if cfg.ReconnectBackoff > 0 {
			initialBackoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond
		}
	}
	return &resilience.ReconnectConfig{
		MaxAttempts: maxAttempts,
		Backoff:     initialBackoff,
		Multiplier:  2.0,
		MaxBackoff:  reconnectCap,
	}
}

func (d *DeepgramClient) emit(r *Result) {
	select {
	case d.results <- r:
	default:
		log.Warn().Msg("stt results channel full, dropping event")
	}
}

// SendAudio forwards one inbound audio chunk to Deepgram, gated by the
// circuit breaker so a run of send failures fails fast instead of hammering
// an already-unhealthy connection.
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

func (d *DeepgramClient) Results() <-chan *Result {
	return d.results
}

func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}
	d.client.Finish()
	d.isActive = false
	return nil
}

func (d *DeepgramClient) Close() error {
	d.cancel()
	if err := d.Stop(); err != nil {
		return err
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.results)
	}()
	return nil
}

func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
