package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxwire/voxwire/internal/asrsession"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/dialogue"
	"github.com/voxwire/voxwire/internal/intent"
	"github.com/voxwire/voxwire/internal/protocol"
	"github.com/voxwire/voxwire/internal/tools"
	"github.com/voxwire/voxwire/internal/ttspipe"
	"github.com/voxwire/voxwire/internal/vadgate"
	"github.com/voxwire/voxwire/internal/wakeword"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/memory"
	"github.com/voxwire/voxwire/pkg/provider/tts"
	"github.com/voxwire/voxwire/pkg/provider/vad"
	"github.com/voxwire/voxwire/pkg/types"
)

// helloTimeout bounds how long a device may sit on an open socket without
// introducing itself.
const helloTimeout = 10 * time.Second

// wakeSuppressMs mutes the VAD gate right after a wake reply so the
// greeting's echo is not transcribed.
const wakeSuppressMs = 1000

// Watchdog timing. Vars so tests can shrink the idle cycle.
var (
	// idleCheckInterval is the cadence of the no-voice watchdog.
	idleCheckInterval = 10 * time.Second

	// idleGrace is how long the idle farewell may wait for one more turn
	// before the connection is closed anyway.
	idleGrace = 60 * time.Second

	// farewellGrace is how long a requested goodbye gets to finish speaking.
	farewellGrace = 10 * time.Second
)

// Connection is one device session. Create with [New] and drive with
// [Connection.Run]; all other methods are internal to the loop except the
// [ttspipe.Device] implementation.
type Connection struct {
	deps Deps
	cfg  *config.Config
	t    Transport
	log  *slog.Logger

	id       string
	deviceID string
	relay    bool

	reorder *Reorderer
	decoder *audio.Decoder

	vadSession vad.SessionHandle
	gate       *vadgate.Gate
	asr        *asrsession.Session
	pipe       *ttspipe.Pipeline
	dialog     *dialogue.Dialogue
	registry   *tools.Registry
	deviceMCP  *tools.DeviceMCP
	classifier *intent.Classifier
	detector   *wakeword.Detector
	responder  *wakeword.Responder

	// Effective providers for this session: the shared instances from Deps
	// unless manager overrides forced a per-device rebuild.
	llm     llm.Provider
	synth   tts.Synthesizer
	mem     memory.Store
	closers []func()

	memorySummary string
	listenMode    string

	// chatMu serializes dialogue turns; the dialogue has a single writer.
	chatMu    sync.Mutex
	turnWG    sync.WaitGroup
	cancelRun context.CancelFunc

	stateMu   sync.Mutex
	iotStates map[string]map[string]any

	lastVoice      atomic.Int64
	idleWarned     atomic.Bool
	closeAfterChat atomic.Bool
	outTS          atomic.Uint32

	closeOnce sync.Once
	closed    chan struct{}
}

// New prepares a connection for an authenticated device. The conversation
// does not start until [Connection.Run].
func New(deps Deps, t Transport, deviceID string, relay bool) *Connection {
	id := uuid.NewString()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Connection{
		deps:      deps,
		cfg:       deps.Config,
		t:         t,
		log:       log.With("session_id", id, "device_id", deviceID),
		id:        id,
		deviceID:  deviceID,
		relay:     relay,
		reorder:   NewReorderer(),
		closed:    make(chan struct{}),
		iotStates: make(map[string]map[string]any),
	}
}

// Run performs the hello handshake, sets up the session, and processes
// messages until the device disconnects or the connection is closed.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelRun = cancel

	hello, err := c.awaitHello(ctx)
	if err != nil {
		c.t.Close("hello timeout")
		return fmt.Errorf("gateway: handshake: %w", err)
	}

	if err := c.setup(ctx, hello); err != nil {
		c.t.Close("setup failed")
		return fmt.Errorf("gateway: setup: %w", err)
	}
	defer c.teardown(ctx)

	c.deps.Metrics.ActiveConnections.Add(ctx, 1)
	defer c.deps.Metrics.ActiveConnections.Add(ctx, -1)

	if err := c.t.SendJSON(ctx, protocol.NewHello(c.id, protocol.AudioParams{
		Format:        "opus",
		SampleRate:    audio.SampleRate,
		Channels:      audio.Channels,
		FrameDuration: audio.FrameSizeMs,
	})); err != nil {
		return fmt.Errorf("gateway: send hello: %w", err)
	}
	c.log.Info("session started", "listen_mode", c.listenMode, "relay", c.relay)

	c.lastVoice.Store(time.Now().Unix())
	go c.idleWatchdog(ctx)

	for {
		kind, data, err := c.t.Receive(ctx)
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			return fmt.Errorf("gateway: receive: %w", err)
		}
		switch kind {
		case KindBinary:
			c.handleAudio(ctx, data)
		case KindText:
			c.handleText(ctx, data)
		}
		select {
		case <-c.closed:
			return nil
		default:
		}
	}
}

// awaitHello reads messages until the client hello arrives.
func (c *Connection) awaitHello(ctx context.Context) (*protocol.Inbound, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	for {
		kind, data, err := c.t.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if kind != KindText {
			continue
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == protocol.TypeHello {
			return &msg, nil
		}
	}
}

// setup builds the per-session pipeline after the hello exchange, applying
// manager-side overrides when enabled. Providers whose entries the overrides
// changed are rebuilt from the registry for this connection only.
func (c *Connection) setup(ctx context.Context, hello *protocol.Inbound) error {
	vadEngine := c.deps.VAD
	transcriber := c.deps.ASR
	c.llm, c.synth, c.mem = c.deps.LLM, c.deps.TTS, c.deps.Memory

	if c.cfg.ReadConfigFromAPI && c.deps.Manager != nil {
		ov, _, err := c.deps.Manager.FetchOverrides(ctx, c.deviceID)
		if err != nil {
			c.log.Warn("fetching device overrides failed, using base config", "error", err)
		} else if ov != nil {
			base := c.cfg
			c.cfg = ov.Apply(c.cfg)
			if diff := config.DiffProviders(base.Providers, c.cfg.Providers); !diff.Empty() && c.deps.Registry != nil {
				vadEngine, transcriber = c.rebuildProviders(diff, vadEngine, transcriber)
			}
		}
	}

	session, err := vadEngine.NewSession(vad.Config{SampleRate: audio.SampleRate})
	if err != nil {
		return fmt.Errorf("open vad session: %w", err)
	}
	c.vadSession = session
	c.gate = vadgate.New(session, c.cfg.SilenceThresholdMs)

	dec, err := audio.NewDecoder()
	if err != nil {
		session.Close()
		return fmt.Errorf("init decoder: %w", err)
	}
	c.decoder = dec

	c.asr = asrsession.New(transcriber)
	c.dialog = dialogue.New(c.cfg.Prompt)
	c.pipe = ttspipe.New(c.synth, c, c.log, ttspipe.WithMetrics(c.deps.Metrics))
	c.detector = wakeword.NewDetector(c.cfg.WakeupWords)
	c.responder = wakeword.NewResponder(c.synth, c.cfg.EnableWakeupWordsResponseCache, c.log)
	if c.cfg.Intent.Mode == config.IntentLLM {
		p := c.deps.IntentLLM
		if p == nil {
			p = c.llm
		}
		c.classifier = intent.NewClassifier(p, c.log)
	}

	c.registry = tools.NewRegistry()
	tools.RegisterBuiltins(c.registry, c.requestFarewell)
	if c.deps.MCPHost != nil {
		c.deps.MCPHost.RegisterAll(c.registry)
	}
	if hello.Features["mcp"] {
		c.deviceMCP = tools.NewDeviceMCP(c.sendMCP)
		go func() {
			defer c.registry.FinishInit()
			initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := c.deviceMCP.Initialize(initCtx); err != nil {
				c.log.Warn("device mcp initialization failed", "error", err)
				return
			}
			c.deviceMCP.RegisterAll(c.registry)
		}()
	} else {
		c.registry.FinishInit()
	}

	if c.mem != nil {
		summary, err := c.mem.Load(ctx, c.deviceID)
		if err != nil {
			c.log.Warn("loading memory failed", "error", err)
		} else {
			c.memorySummary = summary
		}
	}

	if err := c.responder.Warm(ctx); err != nil {
		c.log.Warn("warming wake reply cache failed", "error", err)
	}
	return nil
}

// rebuildProviders swaps in connection-local providers for every entry the
// device overrides changed. A rebuild failure keeps the shared instance so
// the session still comes up.
func (c *Connection) rebuildProviders(diff config.ProvidersDiff, vadEngine vad.Engine, transcriber asr.Transcriber) (vad.Engine, asr.Transcriber) {
	reg := c.deps.Registry
	if diff.Has(config.KindVAD) {
		if e, err := reg.CreateVAD(c.cfg.Providers.VAD); err != nil {
			c.log.Warn("rebuilding vad provider failed, using shared instance",
				"name", c.cfg.Providers.VAD.Name, "error", err)
		} else {
			vadEngine = e
			c.log.Info("provider rebuilt for device", "kind", "vad", "name", c.cfg.Providers.VAD.Name)
		}
	}
	if diff.Has(config.KindASR) {
		if t, err := reg.CreateASR(c.cfg.Providers.ASR); err != nil {
			c.log.Warn("rebuilding asr provider failed, using shared instance",
				"name", c.cfg.Providers.ASR.Name, "error", err)
		} else {
			transcriber = t
			c.closers = append(c.closers, func() { t.Close() })
			c.log.Info("provider rebuilt for device", "kind", "asr", "name", c.cfg.Providers.ASR.Name)
		}
	}
	if diff.Has(config.KindLLM) {
		if p, err := reg.CreateLLM(c.cfg.Providers.LLM); err != nil {
			c.log.Warn("rebuilding llm provider failed, using shared instance",
				"name", c.cfg.Providers.LLM.Name, "error", err)
		} else {
			c.llm = p
			c.log.Info("provider rebuilt for device", "kind", "llm", "name", c.cfg.Providers.LLM.Name)
		}
	}
	if diff.Has(config.KindTTS) {
		if s, err := reg.CreateTTS(c.cfg.Providers.TTS); err != nil {
			c.log.Warn("rebuilding tts provider failed, using shared instance",
				"name", c.cfg.Providers.TTS.Name, "error", err)
		} else {
			c.synth = s
			c.log.Info("provider rebuilt for device", "kind", "tts", "name", c.cfg.Providers.TTS.Name)
		}
	}
	if diff.Has(config.KindMemory) {
		if m, err := reg.CreateMemory(c.cfg.Providers.Memory); err != nil {
			c.log.Warn("rebuilding memory provider failed, using shared instance",
				"name", c.cfg.Providers.Memory.Name, "error", err)
		} else {
			c.mem = m
			c.closers = append(c.closers, func() { m.Close() })
			c.log.Info("provider rebuilt for device", "kind", "memory", "name", c.cfg.Providers.Memory.Name)
		}
	}
	return vadEngine, transcriber
}

// teardown releases the session, summarizing the dialogue into memory first.
// Any in-flight dialogue turn is cancelled and waited out so nothing writes
// to the pipeline after it closes.
func (c *Connection) teardown(ctx context.Context) {
	c.cancelRun()
	c.turnWG.Wait()
	ctx = context.WithoutCancel(ctx)
	c.saveMemory(ctx)
	c.pipe.Close()
	if c.deviceMCP != nil {
		c.deviceMCP.Close()
	}
	c.vadSession.Close()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.log.Info("session ended", "turns", c.dialog.Len())
}

// handleAudio runs one binary frame through relay unwrap, Opus decode, the
// VAD gate, and the ASR capture buffer.
func (c *Connection) handleAudio(ctx context.Context, data []byte) {
	payloads := [][]byte{data}
	if c.relay {
		payloads = c.reorder.Push(data)
	}
	for _, payload := range payloads {
		pcm, err := c.decoder.Decode(payload)
		if err != nil {
			c.log.Debug("dropping undecodable frame", "error", err)
			continue
		}
		c.processPCM(ctx, pcm)
	}
}

func (c *Connection) processPCM(ctx context.Context, pcm []int16) {
	// Manual mode trusts the device's listen start/stop; VAD stays out.
	if c.listenMode == protocol.ListenModeManual {
		if c.asr.Capturing() {
			c.lastVoice.Store(time.Now().Unix())
			c.asr.Push(pcm)
		}
		return
	}

	ev, err := c.gate.ProcessFrame(pcm)
	if err != nil {
		c.log.Warn("vad failed on frame", "error", err)
		return
	}
	switch ev {
	case vadgate.EventVoiceStart:
		c.lastVoice.Store(time.Now().Unix())
		c.idleWarned.Store(false)
		if c.pipe.Speaking() {
			c.bargeIn(ctx)
		}
		if err := c.asr.Begin(ctx); err != nil {
			c.log.Warn("opening asr stream failed, buffering instead", "error", err)
		}
		c.asr.Push(pcm)
	case vadgate.EventVoiceStop:
		c.finishUtterance(ctx)
	default:
		if c.asr.Capturing() {
			c.lastVoice.Store(time.Now().Unix())
			c.asr.Push(pcm)
		}
	}
}

// finishUtterance transcribes the captured audio and routes the transcript.
func (c *Connection) finishUtterance(ctx context.Context) {
	start := time.Now()
	tr, err := c.asr.Finalize(ctx)
	if err != nil {
		if !errors.Is(err, asrsession.ErrNoAudio) {
			c.deps.Metrics.RecordProviderError(ctx, "asr", "transcribe")
			c.log.Warn("transcription failed", "error", err)
		}
		return
	}
	c.deps.Metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if tr.Text == "" {
		return
	}
	c.log.Info("transcript", "text", tr.Text)
	if err := c.t.SendJSON(ctx, protocol.NewSTT(c.id, tr.Text)); err != nil {
		c.log.Warn("sending transcript failed", "error", err)
	}
	c.routeTranscript(ctx, tr.Text)
}

// bargeIn aborts the in-flight reply because the user started talking.
func (c *Connection) bargeIn(ctx context.Context) {
	c.deps.Metrics.BargeIns.Add(ctx, 1)
	c.pipe.Abort(ctx)
	c.reorder.Reset()
	c.log.Info("barge-in, reply aborted")
}

// idleWatchdog closes connections that hear no voice. The first trigger
// speaks the configured end prompt; the connection closes after the grace
// period, or immediately when the prompt is disabled.
func (c *Connection) idleWatchdog(ctx context.Context) {
	threshold := time.Duration(c.cfg.CloseConnectionNoVoiceTime) * time.Second
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
		}
		idle := time.Since(time.Unix(c.lastVoice.Load(), 0))
		switch {
		case idle < threshold:
		case !c.idleWarned.Load():
			c.idleWarned.Store(true)
			if c.cfg.EndPrompt.Enabled() {
				// Speak the farewell but keep the socket: the device gets
				// one more turn (close_after_chat) or the force-close above.
				c.log.Info("idle threshold reached, speaking farewell")
				c.closeAfterChat.Store(true)
				c.pipe.SpeakOne(ctx, c.farewellLine(ctx))
			} else {
				c.close(ctx, "no voice activity")
				return
			}
		case idle >= threshold+idleGrace:
			c.close(ctx, "no voice activity")
			return
		}
	}
}

// requestFarewell is handed to the exit tool: speak the goodbye, then close.
func (c *Connection) requestFarewell(farewell string) {
	c.pipe.SpeakOne(context.WithoutCancel(context.Background()), farewell)
	c.scheduleClose("conversation ended")
}

// scheduleClose closes the connection once the grace period has let queued
// audio finish playing.
func (c *Connection) scheduleClose(reason string) {
	go func() {
		select {
		case <-time.After(farewellGrace):
		case <-c.closed:
		}
		c.close(context.WithoutCancel(context.Background()), reason)
	}()
}

// close shuts the socket once. Run's receive loop observes c.closed and
// returns cleanly.
func (c *Connection) close(ctx context.Context, reason string) {
	c.closeOnce.Do(func() {
		c.log.Info("closing connection", "reason", reason)
		close(c.closed)
		c.t.Close(reason)
	})
}

// saveMemory condenses the conversation into a summary for the next session.
func (c *Connection) saveMemory(ctx context.Context) {
	if c.mem == nil || c.dialog.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	summary, err := c.summarize(ctx)
	if err != nil {
		c.log.Warn("memory summarization failed", "error", err)
		return
	}
	if summary == "" {
		return
	}
	if err := c.mem.Save(ctx, c.deviceID, summary); err != nil {
		c.log.Warn("saving memory failed", "error", err)
	}
}

const memoryPrompt = `Summarize the important facts about the user from this conversation in a few short sentences: their preferences, interests, and anything they asked you to remember. Merge with the previous memory when one is given. Reply with the summary only; reply with an empty string when there is nothing worth remembering.`

func (c *Connection) summarize(ctx context.Context) (string, error) {
	msgs := []types.Message{{Role: "system", Content: memoryPrompt}}
	if c.memorySummary != "" {
		msgs = append(msgs, types.Message{Role: "user", Content: "Previous memory:\n" + c.memorySummary})
	}
	msgs = append(msgs, c.dialog.Recent(20)...)
	resp, err := c.llm.Complete(ctx, llmRequest(msgs))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// report forwards one dialogue message to the manager for usage accounting.
func (c *Connection) report(ctx context.Context, role, content string) {
	if c.deps.Manager == nil || !c.cfg.ReadConfigFromAPI || content == "" {
		return
	}
	go func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.deps.Manager.Report(rctx, config.UsageReport{
			DeviceID:  c.deviceID,
			SessionID: c.id,
			Role:      role,
			Content:   content,
			Timestamp: time.Now(),
		}); err != nil {
			c.log.Debug("usage report failed", "error", err)
		}
	}()
}

// SendAudio implements [ttspipe.Device], adding the relay header when the
// connection came through an MQTT gateway.
func (c *Connection) SendAudio(ctx context.Context, frame []byte) error {
	if c.relay {
		frame = BuildRelayFrame(c.outTS.Add(frameStepMs), frame)
	}
	return c.t.SendBinary(ctx, frame)
}

// SendTTS implements [ttspipe.Device].
func (c *Connection) SendTTS(ctx context.Context, state, text string) error {
	return c.t.SendJSON(ctx, protocol.NewTTS(c.id, state, text))
}

// sendMCP wraps a JSON-RPC payload for the device-side MCP endpoint.
func (c *Connection) sendMCP(payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.t.SendJSON(ctx, protocol.MCP{Type: protocol.TypeMCP, Payload: payload})
}
