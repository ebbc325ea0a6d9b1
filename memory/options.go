package memory

import (
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configures a memory bank.
type Options struct {
	// Window is the raw entry count above which compaction triggers.
	Window int
	// KeepRecent is the number of newest raw entries compaction leaves untouched.
	KeepRecent int
	// AutoCompact compacts after every append that crosses Window.
	AutoCompact bool
	Summarizer  core.Summarizer
	Recorder    core.Recorder
	Logger      logging.Logger
	Now         func() time.Time
}

// DefaultOptions returns the baseline bank options.
func DefaultOptions() Options {
	return Options{
		Window:      20,
		KeepRecent:  5,
		AutoCompact: true,
		Summarizer:  DigestSummarizer{},
		Recorder:    core.NopRecorder{},
		Logger:      logging.NoOpLogger{},
		Now:         time.Now,
	}
}

// ApplyOptions resolves functional options on top of DefaultOptions and
// repairs values that would break compaction.
func ApplyOptions(optFns ...func(o *Options)) Options {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Window < 1 {
		opts.Window = 1
	}
	if opts.KeepRecent < 0 {
		opts.KeepRecent = 0
	}
	if opts.KeepRecent > opts.Window {
		opts.KeepRecent = opts.Window
	}
	if opts.Summarizer == nil {
		opts.Summarizer = DigestSummarizer{}
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
