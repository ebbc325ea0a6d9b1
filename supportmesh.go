// Package supportmesh wires the orchestration core into a ready to use
// customer support pipeline: session store, memory bank, tool registry with
// the builtin support tools, the three agents and the observability hub.
//
// Most applications only need:
//
//	mesh, err := supportmesh.New()
//	if err != nil { ... }
//	defer mesh.Close()
//
//	resp, err := mesh.Process(ctx, core.Request{Text: "I can't log in"})
//
// Every component can be overridden through Options; unset ones are derived
// from the Config (see package config).
package supportmesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/config"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/memory"
	memoryredis "github.com/hupe1980/supportmesh/memory/redis"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/model/anthropic"
	"github.com/hupe1980/supportmesh/model/openai"
	"github.com/hupe1980/supportmesh/observability"
	"github.com/hupe1980/supportmesh/orchestrator"
	"github.com/hupe1980/supportmesh/session"
	sessionredis "github.com/hupe1980/supportmesh/session/redis"
	"github.com/hupe1980/supportmesh/tool"
)

// Options configures a SupportMesh. Only Config is consulted for values that
// are not set explicitly.
type Options struct {
	// Config supplies thresholds, timeouts and backend selection. Defaults to
	// config.Default().
	Config *config.Config
	// Logger defaults to a logger built from Config.Logging().
	Logger logging.Logger

	// Redis is used for the redis backend. When nil a client is created from
	// Config.RedisAddr and closed by Close.
	Redis redis.UniversalClient

	// Model backs all three agents and the memory summarizer. When nil and
	// Config.ModelProvider is set, a provider model is created; otherwise the
	// rule based agents are used.
	Model model.Model
	// Agents overrides individual agents; nil fields keep the defaults.
	Agents orchestrator.Agents

	// Tools are registered next to the builtin support tools.
	Tools []tool.Tool

	Sinks          []observability.Sink
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	Now func() time.Time
}

// SupportMesh is the assembled pipeline.
type SupportMesh struct {
	conf     *config.Config
	logger   logging.Logger
	hub      *observability.Hub
	sessions core.SessionStore
	memory   core.MemoryBank
	tools    *tool.Registry
	orch     *orchestrator.Orchestrator
	closers  []io.Closer
}

// New assembles a SupportMesh.
func New(optFns ...func(o *Options)) (*SupportMesh, error) {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	conf := opts.Config
	if conf == nil {
		conf = config.Default()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(conf.Logging())
		if err != nil {
			return nil, err
		}
		logger = l
	}

	m := &SupportMesh{conf: conf, logger: logger}

	if err := m.initHub(opts); err != nil {
		return nil, err
	}

	llm, err := newModel(opts.Model, conf)
	if err != nil {
		return nil, err
	}

	if err := m.initStores(opts, llm); err != nil {
		return nil, err
	}

	m.tools = tool.NewRegistry(func(o *tool.Options) {
		o.Retry = conf.Retry()
		o.DefaultTimeout = conf.ToolTimeout
		o.Recorder = m.hub
		o.Logger = logger
		o.Now = opts.Now
	})
	if err := tool.RegisterBuiltins(m.tools, conf.ToolLatency); err != nil {
		return nil, errors.Join(err, m.Close())
	}
	for _, t := range opts.Tools {
		if err := m.tools.Register(t); err != nil {
			return nil, errors.Join(err, m.Close())
		}
	}

	agents := m.defaultAgents(llm)
	if opts.Agents.Routing != nil {
		agents.Routing = opts.Agents.Routing
	}
	if opts.Agents.Support != nil {
		agents.Support = opts.Agents.Support
	}
	if opts.Agents.Escalation != nil {
		agents.Escalation = opts.Agents.Escalation
	}

	m.orch, err = orchestrator.New(m.sessions, m.memory, m.tools, agents, func(o *orchestrator.Options) {
		o.Mode = conf.DefaultMode()
		o.SeverityThreshold = conf.SeverityThreshold
		o.MaxTurns = conf.LoopMaxTurns
		o.AgentTimeout = conf.AgentTimeout
		o.RequestTimeout = conf.RequestTimeout
		o.Recorder = m.hub
		o.Logger = logger
		o.Now = opts.Now
	})
	if err != nil {
		return nil, errors.Join(err, m.Close())
	}

	logger.Info("supportmesh.ready", "backend", conf.Backend, "mode", conf.DefaultMode(), "model", llm != nil)

	return m, nil
}

func (m *SupportMesh) initHub(opts Options) error {
	sinks := append([]observability.Sink{observability.NewLogSink(m.logger)}, opts.Sinks...)

	if m.conf.Telemetry || opts.MeterProvider != nil || opts.TracerProvider != nil {
		otelSink, err := observability.NewOTelSink(opts.MeterProvider, opts.TracerProvider)
		if err != nil {
			return fmt.Errorf("create otel sink: %w", err)
		}
		sinks = append(sinks, otelSink)
	}

	m.hub = observability.NewHub(func(o *observability.Options) {
		o.MaxEventsPerSession = m.conf.MaxEventsPerSession
		o.MaxSessions = m.conf.MaxTracedSessions
		o.Sinks = sinks
		o.Logger = m.logger
		o.Now = opts.Now
	})

	return nil
}

func (m *SupportMesh) initStores(opts Options, llm model.Model) error {
	var summarizer core.Summarizer = memory.DigestSummarizer{}
	if llm != nil {
		summarizer = agent.NewModelSummarizer(llm, func(o *agent.SummarizerOptions) {
			o.Fallback = memory.DigestSummarizer{}
			o.Logger = m.logger
		})
	}

	sessionOpts := func(o *session.Options) {
		o.PauseTimeout = m.conf.PauseTimeout
		o.OnTransition = m.recordTransition
		o.Logger = m.logger
		o.Now = opts.Now
	}
	memoryOpts := func(o *memory.Options) {
		o.Window = m.conf.CompactionWindow
		o.KeepRecent = m.conf.KeepRecent
		o.Summarizer = summarizer
		o.Recorder = m.hub
		o.Logger = m.logger
		o.Now = opts.Now
	}

	switch m.conf.Backend {
	case config.BackendRedis:
		rdb := opts.Redis
		if rdb == nil {
			client := redis.NewClient(&redis.Options{
				Addr:     m.conf.RedisAddr,
				Password: m.conf.RedisPassword,
				DB:       m.conf.RedisDB,
			})
			m.closers = append(m.closers, client)
			rdb = client
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Join(fmt.Errorf("connect redis %s: %w", m.conf.RedisAddr, err), m.Close())
		}

		m.sessions = sessionredis.New(rdb, func(o *sessionredis.Options) {
			sessionOpts(&o.Options)
			o.Prefix = m.conf.RedisPrefix
			o.TTL = m.conf.RedisTTL
		})
		m.memory = memoryredis.New(rdb, func(o *memoryredis.Options) {
			memoryOpts(&o.Options)
			o.Prefix = m.conf.RedisPrefix
			o.TTL = m.conf.RedisTTL
		})
	default:
		sessions := session.NewInMemoryStore(sessionOpts)
		bank := memory.NewInMemoryBank(memoryOpts)
		m.sessions, m.memory = sessions, bank
		m.closers = append(m.closers, sessions, bank)
	}

	return nil
}

func (m *SupportMesh) recordTransition(sessionID string, from, to core.Status) {
	m.hub.RecordEvent(sessionID, core.EventSessionTransition, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func (m *SupportMesh) defaultAgents(llm model.Model) orchestrator.Agents {
	if llm == nil {
		return orchestrator.Agents{
			Routing:    agent.NewRoutingAgent(),
			Support:    agent.NewSupportAgent(),
			Escalation: agent.NewEscalationAgent(m.conf.SeverityThreshold),
		}
	}

	var kb []tool.Tool
	if t, ok := m.tools.Get(tool.SearchKnowledgeBase); ok {
		kb = append(kb, t)
	}

	return orchestrator.Agents{
		Routing: agent.NewModelAgent(agent.RouterName, core.KindRouting, llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText("You are the Issue Router of a customer support team. Classify the request into account, billing, technical or general.")
			o.Logger = m.logger
		}),
		Support: agent.NewModelAgent(agent.SupportName, core.KindSupport, llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText("You are Technical Support. Search the knowledge base before answering and rate how severe the customer's problem is.")
			o.Tools = kb
			o.ToolTimeout = m.conf.ToolTimeout
			o.Logger = m.logger
		}),
		Escalation: agent.NewModelAgent(agent.EscalationName, core.KindEscalation, llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText(fmt.Sprintf(
				"You are the Escalation Handler. Escalate to tier-2 support only when the problem severity is at least %.1f; otherwise leave the verdict empty.",
				m.conf.SeverityThreshold))
			o.Logger = m.logger
		}),
	}
}

func newModel(llm model.Model, conf *config.Config) (model.Model, error) {
	if llm != nil {
		return llm, nil
	}

	switch conf.ModelProvider {
	case "":
		return nil, nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if conf.ModelName != "" {
				o.Model = conf.ModelName
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if conf.ModelName != "" {
				o.Model = anthropicsdk.Model(conf.ModelName)
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown model provider %q", core.ErrValidation, conf.ModelProvider)
	}
}

// OpenSession creates an ACTIVE session. Callers that need the session id
// before the first request completes, e.g. to pause a running LOOP, pass it
// in core.Request.SessionID.
func (m *SupportMesh) OpenSession(ctx context.Context) (string, error) {
	sess, err := m.sessions.Create(ctx)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Process handles one customer request.
func (m *SupportMesh) Process(ctx context.Context, req core.Request) (core.Response, error) {
	return m.orch.Process(ctx, req)
}

// Pause suspends a session and returns its resume token.
func (m *SupportMesh) Pause(ctx context.Context, sessionID string) (string, error) {
	return m.orch.Pause(ctx, sessionID)
}

// Resume continues a paused session.
func (m *SupportMesh) Resume(ctx context.Context, sessionID, token string) (core.Response, error) {
	return m.orch.Resume(ctx, sessionID, token)
}

// Trace returns the recorded events of a session in sequence order.
func (m *SupportMesh) Trace(sessionID string) []core.Event {
	return m.hub.QueryTrace(sessionID)
}

// Metrics returns the aggregated event metrics.
func (m *SupportMesh) Metrics() observability.Snapshot {
	return m.hub.MetricsSnapshot()
}

// Tools exposes the tool registry, e.g. to register additional tools.
func (m *SupportMesh) Tools() *tool.Registry { return m.tools }

// Hub exposes the observability hub, e.g. to add sinks.
func (m *SupportMesh) Hub() *observability.Hub { return m.hub }

// Close releases stores and any client created by New.
func (m *SupportMesh) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
