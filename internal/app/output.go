package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dshills/cvsbridge/internal/event"
	"github.com/rs/zerolog"
)

// DefaultOutputCapacity is the number of lines an OutputChannel keeps.
const DefaultOutputCapacity = 1000

// OutputChannel keeps the most recent lines reported by the client runner
// and forwards each one to the logger at debug level. It implements
// process.OutputSink.
type OutputChannel struct {
	logger zerolog.Logger

	mu       sync.Mutex
	lines    []string
	start    int
	capacity int
	dropped  int

	onDidAppend event.Emitter[string]
}

// NewOutputChannel creates a channel holding up to capacity lines.
// A capacity <= 0 means DefaultOutputCapacity.
func NewOutputChannel(capacity int, logger zerolog.Logger) *OutputChannel {
	if capacity <= 0 {
		capacity = DefaultOutputCapacity
	}
	return &OutputChannel{
		logger:   WithComponent(logger, "output"),
		capacity: capacity,
	}
}

// AppendLine records line. Multi-line text is split; the oldest lines are
// dropped once the channel is full.
func (o *OutputChannel) AppendLine(line string) {
	for _, l := range strings.Split(strings.TrimRight(line, "\r\n"), "\n") {
		l = strings.TrimRight(l, "\r")
		o.append(l)
		o.logger.Debug().Msg(l)
		o.onDidAppend.Fire(l)
	}
}

func (o *OutputChannel) append(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.lines) < o.capacity {
		o.lines = append(o.lines, line)
		return
	}
	o.lines[o.start] = line
	o.start = (o.start + 1) % o.capacity
	o.dropped++
}

// Lines returns the kept lines, oldest first.
func (o *OutputChannel) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.lines))
	out = append(out, o.lines[o.start:]...)
	out = append(out, o.lines[:o.start]...)
	return out
}

// Len returns the number of kept lines.
func (o *OutputChannel) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}

// Dropped returns how many lines were discarded to stay within capacity.
func (o *OutputChannel) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// WriteTo writes the kept lines to w, one per line.
func (o *OutputChannel) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, line := range o.Lines() {
		written, err := fmt.Fprintln(w, line)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// OnDidAppend fires for every appended line.
func (o *OutputChannel) OnDidAppend() event.Source[string] {
	return &o.onDidAppend
}
