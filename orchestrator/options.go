package orchestrator

import (
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configures an Orchestrator.
type Options struct {
	// Mode is used when a request does not name one.
	Mode core.Mode
	// SeverityThreshold is the support severity at or above which PARALLEL
	// mode consults the escalation agent.
	SeverityThreshold float64
	// MaxTurns caps LOOP mode unless the request overrides it.
	MaxTurns int
	// AgentTimeout bounds a single agent call.
	AgentTimeout time.Duration
	// RequestTimeout bounds Process and Resume end to end. Zero disables it.
	RequestTimeout time.Duration
	// TicketPriority is passed to create_ticket on escalation.
	TicketPriority string
	// ContextLimit caps the memory entries handed to agents.
	ContextLimit int
	Recorder     core.Recorder
	Logger       logging.Logger
	Now          func() time.Time
}

// DefaultOptions returns the baseline orchestrator options.
func DefaultOptions() Options {
	return Options{
		Mode:              core.ModeParallel,
		SeverityThreshold: 0.7,
		MaxTurns:          5,
		AgentTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		TicketPriority:    "high",
		ContextLimit:      10,
		Recorder:          core.NopRecorder{},
		Logger:            logging.NoOpLogger{},
		Now:               time.Now,
	}
}

func applyOptions(optFns ...func(o *Options)) Options {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Mode == "" {
		opts.Mode = core.ModeParallel
	}
	if opts.MaxTurns < 1 {
		opts.MaxTurns = 1
	}
	if opts.TicketPriority == "" {
		opts.TicketPriority = "high"
	}
	if opts.Recorder == nil {
		opts.Recorder = core.NopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
