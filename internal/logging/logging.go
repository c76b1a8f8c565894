// Package logging wires the daemon's structured logging: a
// logiface.Logger[*izerolog.Event] backed by zerolog, plus adapters that
// let other packages' capability interfaces (e.g. track.EventLogger)
// stay decoupled from the concrete logging library.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"

	"github.com/ctsyncd/ctsyncd/internal/flowobj"
)

// Logger is the daemon's logger type, fixed to the zerolog event
// backend.
type Logger = logiface.Logger[*izerolog.Event]

// Level re-exports logiface.Level so callers need not import logiface
// directly for level configuration.
type Level = logiface.Level

const (
	LevelError   = logiface.LevelError
	LevelWarning = logiface.LevelWarning
	LevelNotice  = logiface.LevelNotice
	LevelInfo    = logiface.LevelInformational
	LevelDebug   = logiface.LevelDebug
)

// New constructs the daemon's logger, writing newline-delimited JSON to
// w (os.Stderr if nil) at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// FlowFields attaches a flow's fingerprint as structured fields on an
// in-progress log builder, the common prefix every flow-scoped log line
// in this daemon uses.
func FlowFields(b *logiface.Builder[*izerolog.Event], f *flowobj.Flow) *logiface.Builder[*izerolog.Event] {
	return b.
		Str("src", f.TupleOrig.Src.String()).
		Str("dst", f.TupleOrig.Dst.String()).
		Uint64("sport", uint64(f.TupleOrig.Port.SourcePort)).
		Uint64("dport", uint64(f.TupleOrig.Port.DestPort)).
		Uint64("proto", uint64(f.TupleOrig.Proto))
}

// TrackEvents adapts a Logger to track.EventLogger, so internal/track
// never imports this package directly.
type TrackEvents struct {
	Logger *Logger
}

func (t TrackEvents) Vanished(f *flowobj.Flow) {
	FlowFields(t.Logger.Notice(), f).Log("conntrack entry vanished from the kernel")
}

func (t TrackEvents) Divergence(diff, threshold int) {
	t.Logger.Warning().Int("diff", diff).Int("threshold", threshold).
		Log("internal cache has diverged from the kernel conntrack table")
}
