// Package notify renders lifecycle events into user-facing messages and
// delivers them to sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/cashutrack/internal/token"
)

// Output formats accepted by WriterSink.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const anonymousOwner = "Someone"

// Render returns the chat message for ev.
func Render(ev token.Event) string {
	owner := ev.Owner
	if owner == "" {
		owner = anonymousOwner
	}

	switch ev.Kind {
	case token.EventTracked:
		return fmt.Sprintf("%s shared a Cashu token 🥜 from %s\n\nToken status: pending\n", owner, ev.FundingSource)
	case token.EventRedeemed:
		return fmt.Sprintf("%s shared a Cashu token 🥜\n\nCashu token has been claimed ✅\n", owner)
	case token.EventAbandoned:
		msg := fmt.Sprintf("%s shared a Cashu token 🥜 from %s\n\nStopped tracking this token ⚠️\n", owner, ev.FundingSource)
		if ev.Reason != "" {
			msg += "Reason: " + ev.Reason + "\n"
		}
		return msg
	default:
		return fmt.Sprintf("%s shared a Cashu token 🥜\n\nToken status: %s\n", owner, ev.Kind)
	}
}

// LogSink writes each event to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs ev at Info level.
func (s LogSink) Notify(ctx context.Context, ev token.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"kind", ev.Kind,
		"seq", ev.Seq,
		"token", token.ShortID(ev.TokenID),
		"source", ev.FundingSource,
		"owner", ev.Owner,
		"handles", ev.Handles,
		"message", Render(ev),
	)
	return nil
}

// WriterSink writes events to an io.Writer, one record per event.
//
// The text format is a header line followed by the rendered message
// indented by two spaces. The JSON format is one object per line.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewWriterSink creates a sink writing format (FormatText or FormatJSON) to w.
func NewWriterSink(w io.Writer, format string) (*WriterSink, error) {
	switch format {
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown notification format %q", format)
	}
	return &WriterSink{w: w, format: format}, nil
}

type eventLine struct {
	token.Event
	Message string `json:"message"`
}

// Notify writes ev.
func (s *WriterSink) Notify(ctx context.Context, ev token.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == FormatJSON {
		if err := json.NewEncoder(s.w).Encode(eventLine{Event: ev, Message: Render(ev)}); err != nil {
			return fmt.Errorf("write event %d: %w", ev.Seq, err)
		}
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s %s owner=%s", ev.Seq, ev.Kind, token.ShortID(ev.TokenID), ev.FundingSource, ev.Owner)
	if len(ev.Handles) > 0 {
		fmt.Fprintf(&b, " handles=%s", strings.Join(ev.Handles, ","))
	}
	if ev.DisposeAfter > 0 {
		fmt.Fprintf(&b, " dispose_after=%s", ev.DisposeAfter)
	}
	b.WriteString("\n")
	for _, line := range strings.Split(strings.TrimRight(Render(ev), "\n"), "\n") {
		if line != "" {
			b.WriteString("  ")
			b.WriteString(line)
		}
		b.WriteString("\n")
	}

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
	return nil
}

// Sink is the delivery contract shared by every sink in this package.
type Sink interface {
	Notify(ctx context.Context, ev token.Event) error
}

// Fanout delivers each event to every sink in order. All sinks are tried;
// their errors are joined.
type Fanout []Sink

// Notify delivers ev to every sink.
func (f Fanout) Notify(ctx context.Context, ev token.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
