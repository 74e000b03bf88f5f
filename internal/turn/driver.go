// Package turn implements the per-utterance turn driver (§4.I): it wires
// the carrier transport, STT, TTS, the booking dialog, language detection,
// interruption handling, and the delay-notification workflow into the
// single component that actually drives a call end to end.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/dialog"
	"github.com/lexiqai/callagent/internal/interrupt"
	"github.com/lexiqai/callagent/internal/language"
	"github.com/lexiqai/callagent/internal/llm"
	"github.com/lexiqai/callagent/internal/observability"
	"github.com/lexiqai/callagent/internal/phonebook"
	"github.com/lexiqai/callagent/internal/session"
	"github.com/lexiqai/callagent/internal/stt"
	"github.com/lexiqai/callagent/internal/telephony"
	"github.com/lexiqai/callagent/internal/tts"
	"github.com/lexiqai/callagent/internal/workflow"
)

// callRuntime is the per-stream-id bookkeeping the driver needs beyond what
// session.Session already holds: the transport connection, the dedicated
// STT client, and greeting/flow bookkeeping.
type callRuntime struct {
	conn *telephony.Conn

	mu              sync.Mutex
	sttClient       stt.STTClient
	sttAdmissionID  string
	greeted         bool
	pendingGreeting string
}

// Driver implements telephony.Handler, orchestrating every other component
// for the lifetime of one call.
type Driver struct {
	cfg *config.Config

	registry  *session.Registry
	admission *stt.Admission
	newSTT    func() stt.STTClient
	ttsPool   *tts.Pool

	dialogGraph *dialog.Graph
	llmClient   *llm.Client
	executor    *interrupt.Executor
	phonebook   *phonebook.Phonebook
	events      *observability.EventBus

	teammateFlow *workflow.TeammateFlow
	customerFlow *workflow.CustomerFlow
	scheduler    *workflow.OutboundScheduler

	logger zerolog.Logger

	mu    sync.Mutex
	calls map[string]*callRuntime
}

// Config bundles the already-constructed collaborators NewDriver wires
// together; cmd/server/main.go is the only caller.
type Config struct {
	Cfg          *config.Config
	Registry     *session.Registry
	Admission    *stt.Admission
	NewSTT       func() stt.STTClient
	TTSPool      *tts.Pool
	DialogGraph  *dialog.Graph
	LLMClient    *llm.Client
	Phonebook    *phonebook.Phonebook
	Events       *observability.EventBus
	TeammateFlow *workflow.TeammateFlow
	CustomerFlow *workflow.CustomerFlow
	Scheduler    *workflow.OutboundScheduler
	Logger       zerolog.Logger
}

// NewDriver builds a Driver and its interruption executor, bridging
// interrupt.Executor's small interfaces onto the shared TTS pool, the
// carrier connection, and the session registry.
func NewDriver(c Config) *Driver {
	d := &Driver{
		cfg:          c.Cfg,
		registry:     c.Registry,
		admission:    c.Admission,
		newSTT:       c.NewSTT,
		ttsPool:      c.TTSPool,
		dialogGraph:  c.DialogGraph,
		llmClient:    c.LLMClient,
		phonebook:    c.Phonebook,
		events:       c.Events,
		teammateFlow: c.TeammateFlow,
		customerFlow: c.CustomerFlow,
		scheduler:    c.Scheduler,
		logger:       c.Logger,
		calls:        make(map[string]*callRuntime),
	}
	d.executor = interrupt.NewExecutor(
		&ttsCancelAdapter{pool: c.TTSPool},
		&clearAdapter{driver: d},
		&sessionMarkAdapter{registry: c.Registry},
		c.Logger,
	)
	return d
}

// PumpTTSAudio forwards synthesized audio from the shared TTS client to
// whichever session currently owns the sink. One goroutine runs this for
// the lifetime of the process, started by cmd/server/main.go after its
// initial TTS connect attempt, whether or not that attempt succeeded.
func (d *Driver) PumpTTSAudio() {
	for ev := range d.ttsPool.Client().Events() {
		streamID := d.ttsPool.CurrentSink()
		if streamID == "" {
			continue
		}

		switch ev.Kind {
		case tts.EventAudio:
			d.mu.Lock()
			rt, ok := d.calls[streamID]
			d.mu.Unlock()
			if ok && rt.conn != nil {
				if err := rt.conn.SendMedia(ev.Audio); err != nil {
					d.logger.Warn().Err(err).Str("stream_id", streamID).Msg("failed to write tts audio to carrier")
				}
			}
		case tts.EventIsFinal, tts.EventGenerationFinished, tts.EventFlushed:
			if s, ok := d.registry.Get(streamID); ok {
				s.SetSpeaking(false)
			}
		}
	}
}

// OnStart implements telephony.Handler.
func (d *Driver) OnStart(conn *telephony.Conn, streamID, callID string, params map[string]string) {
	sess := d.registry.GetOrCreate(streamID)
	rt := &callRuntime{conn: conn}

	d.mu.Lock()
	d.calls[streamID] = rt
	d.mu.Unlock()

	isCustomerFlow := false
	if callID != "" {
		if dd, ok := d.scheduler.TakeDelayData(callID); ok {
			sess.SetDelayData(dd)
			sess.SetCallerInfo(session.CallerInfo{Name: dd.CustomerName, Phone: dd.CustomerPhone, Role: session.RoleCustomer})
			isCustomerFlow = true
		}
	}

	if !isCustomerFlow {
		d.identifyCaller(sess, rt, params)
	}

	conn.SetOnFirstMedia(func() {
		d.maybeGreet(streamID)
	})

	sttClient, admissionID, err := d.startSTT()
	if err != nil {
		d.logger.Warn().Err(err).Str("stream_id", streamID).Msg("stt admission saturated, retrying shortly")
		time.AfterFunc(5*time.Second, func() { d.retrySTT(streamID) })
		return
	}

	rt.mu.Lock()
	rt.sttClient = sttClient
	rt.sttAdmissionID = admissionID
	rt.mu.Unlock()

	sess.RegisterTeardown(func() {
		d.mu.Lock()
		delete(d.calls, streamID)
		d.mu.Unlock()
		sttClient.Close()
		d.admission.Release(admissionID)
		d.ttsPool.Release(streamID)
	})

	go d.consumeSTT(streamID, sttClient)
}

// identifyCaller looks the inbound number up in the phonebook and, for a
// teammate, starts the delay-reporting flow in place of the usual greeting.
func (d *Driver) identifyCaller(sess *session.Session, rt *callRuntime, params map[string]string) {
	phone := params["from"]
	if phone == "" {
		phone = params["caller"]
	}
	entry, ok := d.phonebook.Lookup(phone)
	if !ok {
		return
	}

	role := session.RoleCustomer
	if entry.Role == "teammate" {
		role = session.RoleTeammate
	}
	sess.SetCallerInfo(session.CallerInfo{Name: entry.Name, Phone: entry.Phone, Role: role})

	if role != session.RoleTeammate {
		return
	}

	reply, err := d.teammateFlow.Start(context.Background(), sess.StreamID())
	if err != nil {
		d.logger.Error().Err(err).Msg("teammate flow: failed to start")
		return
	}
	rt.mu.Lock()
	rt.pendingGreeting = reply
	rt.mu.Unlock()
}

func (d *Driver) startSTT() (stt.STTClient, string, error) {
	id, ok := d.admission.TryAdmit()
	if !ok {
		return nil, "", fmt.Errorf("stt admission saturated")
	}
	client := d.newSTT()
	if err := client.Start(); err != nil {
		d.admission.Release(id)
		return nil, "", err
	}
	return client, id, nil
}

func (d *Driver) retrySTT(streamID string) {
	d.mu.Lock()
	rt, ok := d.calls[streamID]
	d.mu.Unlock()
	if !ok {
		return
	}

	sttClient, admissionID, err := d.startSTT()
	if err != nil {
		d.logger.Warn().Err(err).Str("stream_id", streamID).Msg("stt admission still saturated, retrying shortly")
		time.AfterFunc(5*time.Second, func() { d.retrySTT(streamID) })
		return
	}

	rt.mu.Lock()
	rt.sttClient = sttClient
	rt.sttAdmissionID = admissionID
	rt.mu.Unlock()

	sess, ok := d.registry.Get(streamID)
	if ok {
		sess.RegisterTeardown(func() {
			sttClient.Close()
			d.admission.Release(admissionID)
		})
	}

	go d.consumeSTT(streamID, sttClient)
}

// OnMedia implements telephony.Handler.
func (d *Driver) OnMedia(streamID string, audioData []byte) {
	d.mu.Lock()
	rt, ok := d.calls[streamID]
	d.mu.Unlock()
	if !ok {
		return
	}
	rt.mu.Lock()
	client := rt.sttClient
	rt.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.SendAudio(audioData); err != nil {
		d.logger.Debug().Err(err).Str("stream_id", streamID).Msg("stt send audio failed")
	}
}

// OnClose implements telephony.Handler.
func (d *Driver) OnClose(streamID string) {
	if sess, ok := d.registry.Get(streamID); ok {
		sess.MarkEnding()
	}
	d.mu.Lock()
	rt, ok := d.calls[streamID]
	d.mu.Unlock()
	if ok {
		rt.mu.Lock()
		client := rt.sttClient
		rt.mu.Unlock()
		if client != nil {
			client.Stop()
		}
	}
	d.ttsPool.Release(streamID)
}

func (d *Driver) consumeSTT(streamID string, client stt.STTClient) {
	for r := range client.Results() {
		switch r.Kind {
		case stt.KindOpen:
			d.maybeGreet(streamID)
		case stt.KindInterim:
			d.handleInterim(streamID, r)
		case stt.KindSpeechFinal, stt.KindUtteranceEnd:
			if r.Text == "" {
				continue
			}
			d.handleTurn(streamID, r.Text)
		case stt.KindError:
			d.logger.Warn().Str("stream_id", streamID).Str("text", r.Text).Msg("stt error event")
		}
	}
}

// maybeGreet fires the opening line exactly once per call, once both the
// STT socket is open and the shared TTS socket is open (§4.I).
func (d *Driver) maybeGreet(streamID string) {
	d.mu.Lock()
	rt, ok := d.calls[streamID]
	d.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	if rt.greeted {
		rt.mu.Unlock()
		return
	}
	sttReady := rt.sttClient != nil && rt.sttClient.IsActive()
	rt.mu.Unlock()

	if !sttReady || d.ttsPool.Client().State() != tts.StateOpen {
		return
	}

	rt.mu.Lock()
	if rt.greeted {
		rt.mu.Unlock()
		return
	}
	rt.greeted = true
	greeting := rt.pendingGreeting
	rt.mu.Unlock()

	if greeting == "" {
		result := d.dialogGraph.Invoke(streamID, "")
		greeting = result.Reply
		d.persistDialogState(streamID, result.Checkpoint)
	}
	d.speak(streamID, greeting)
}

func (d *Driver) handleInterim(streamID string, r *stt.Result) {
	sess, ok := d.registry.Get(streamID)
	if !ok || !sess.IsSpeaking() {
		return
	}

	decision := interrupt.Classify(r.Text, sess.Language(), r.Confidence)
	d.publish("transcript_partial", map[string]any{"stream_id": streamID, "text": r.Text})
	if decision.Interrupt {
		d.executor.Execute(streamID, decision)
	}
}

// handleTurn runs one full speech-final turn. consumeSTT reads results
// sequentially per stream id, so turns for a given call always run to
// completion before the next one starts (§4.I ordering guarantee).
func (d *Driver) handleTurn(streamID, transcript string) {
	sess, ok := d.registry.Get(streamID)
	if !ok {
		return
	}

	d.publish("transcript_final", map[string]any{"stream_id": streamID, "text": transcript})

	lang := language.DetectInputLanguage(transcript)
	sess.SetLanguage(lang)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	var reply string
	var ended bool

	caller := sess.CallerInfo()
	switch {
	case caller.Role == session.RoleTeammate:
		result, err := d.teammateFlow.Handle(ctx, streamID, transcript, caller)
		if err != nil {
			d.logger.Error().Err(err).Str("stream_id", streamID).Msg("teammate flow error")
			d.publish("graph_error", map[string]any{"stream_id": streamID, "error": err.Error()})
			reply = "Sorry, I ran into a problem. Let's continue — do you have any other delays to report?"
		} else {
			reply, ended = result.Reply, result.Done
			if result.DelayData != nil {
				d.scheduler.ScheduleCustomerCall(result.DelayData)
			}
		}

	case sess.DelayData() != nil:
		dd := sess.DelayData()
		r, end, err := d.customerFlow.HandleTurn(ctx, streamID, dd, transcript)
		if err != nil {
			d.logger.Error().Err(err).Str("stream_id", streamID).Msg("customer flow error")
			d.publish("graph_error", map[string]any{"stream_id": streamID, "error": err.Error()})
			reply, ended = "Sorry, I'm having trouble right now. Have a great day!", true
		} else {
			reply, ended = r, end
		}

	default:
		result := d.dialogGraph.Invoke(streamID, transcript)
		reply = result.Reply
		ended = result.Checkpoint.Step == dialog.StepEnd
		d.persistDialogState(streamID, result.Checkpoint)
		d.publish("graph_result", map[string]any{"stream_id": streamID, "step": string(result.Checkpoint.Step)})
	}

	reply = language.TranslateIfNeeded(ctx, d.llmClient, reply, d.cfg.PreferredLanguage, lang)
	d.speak(streamID, reply)

	if ended {
		d.endSession(streamID)
	}
}

func (d *Driver) speak(streamID, text string) {
	sess, ok := d.registry.Get(streamID)
	if !ok {
		return
	}

	start := time.Now()
	d.ttsPool.Acquire(streamID)
	sess.SetSpeaking(true)

	if err := d.ttsPool.Client().SendText(text); err != nil {
		d.logger.Warn().Err(err).Str("stream_id", streamID).Msg("tts send failed")
		sess.SetSpeaking(false)
		return
	}
	if err := d.ttsPool.Client().Flush(); err != nil {
		d.logger.Warn().Err(err).Str("stream_id", streamID).Msg("tts flush failed")
	}
	d.publish("tts_first_byte_ms", map[string]any{"stream_id": streamID, "elapsed_ms": time.Since(start).Milliseconds()})
}

// endSession marks the session as ending and closes the transport shortly
// after, giving the final utterance time to finish playing.
func (d *Driver) endSession(streamID string) {
	if sess, ok := d.registry.Get(streamID); ok {
		sess.MarkEnding()
	}
	d.mu.Lock()
	rt, ok := d.calls[streamID]
	d.mu.Unlock()
	if ok {
		time.AfterFunc(2*time.Second, func() { rt.conn.Close() })
	}
}

func (d *Driver) persistDialogState(streamID string, cp dialog.Checkpoint) {
	d.registry.SetDialogState(streamID, session.DialogState{
		ThreadID:            streamID,
		Step:                string(cp.Step),
		ConversationHistory: cp.ConversationHistory,
		Date:                cp.Date,
		Time:                cp.Time,
		DurationOrEnd:       cp.DurationOrEnd,
		AdditionalDetails:   cp.AdditionalDetails,
		MeetingRequested:    cp.MeetingRequested,
		Confirmed:           cp.Confirmed,
		AppointmentComplete: cp.AppointmentComplete,
	})
}

func (d *Driver) publish(event string, payload map[string]any) {
	if d.events == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	d.events.Publish(event, b)
}

// TTSState exposes the shared TTS socket's state for /health (§6).
func (d *Driver) TTSState() tts.ConnState {
	return d.ttsPool.Client().State()
}

// VoiceID exposes the shared TTS socket's active voice id for /health.
func (d *Driver) VoiceID() string {
	return d.ttsPool.Client().VoiceID()
}

// ActiveSTTConnections exposes the STT admission count for /health.
func (d *Driver) ActiveSTTConnections() int {
	return d.admission.Count()
}

// ttsCancelAdapter bridges the shared, sink-indexed TTS pool onto
// interrupt.TTSCanceller's per-stream-id contract.
type ttsCancelAdapter struct {
	pool *tts.Pool
}

func (a *ttsCancelAdapter) CancelSynthesis(streamID string) {
	if a.pool.IsSink(streamID) {
		if err := a.pool.Client().Cancel(); err != nil {
			return
		}
	}
}

// clearAdapter bridges the driver's live call map onto
// interrupt.ClearSender.
type clearAdapter struct {
	driver *Driver
}

func (a *clearAdapter) SendClear(streamID string) error {
	a.driver.mu.Lock()
	rt, ok := a.driver.calls[streamID]
	a.driver.mu.Unlock()
	if !ok || rt.conn == nil {
		return nil
	}
	return rt.conn.SendClear()
}

// sessionMarkAdapter bridges the session registry onto
// interrupt.SessionMarker.
type sessionMarkAdapter struct {
	registry *session.Registry
}

func (a *sessionMarkAdapter) SetSpeaking(streamID string, speaking bool) {
	if s, ok := a.registry.Get(streamID); ok {
		s.SetSpeaking(speaking)
	}
}
