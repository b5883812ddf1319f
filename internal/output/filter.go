package output

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

// Role says what kind of stream is attached to the filter.
type Role int

const (
	RoleImageBuild Role = iota
	RoleContainerRun
)

func (r Role) String() string {
	switch r {
	case RoleImageBuild:
		return "image"
	case RoleContainerRun:
		return "container"
	default:
		return "unknown"
	}
}

const chunkSize = 32 * 1024

// Sink receives the cumulative captured output of a snippet.
type Sink interface {
	AppendOutput(ctx context.Context, id, output string) error
}

// buffer is the accumulated output of one attached container stream.
type buffer struct {
	text strings.Builder
}

// Filter strips control characters from process streams, separates program
// output from infrastructure chatter and forwards what it keeps to a Sink.
type Filter struct {
	sink       Sink
	classifier Classifier
	logger     *slog.Logger
	maxBytes   int64

	mu      sync.Mutex
	buffers map[string]*buffer
}

func NewFilter(sink Sink, classifier Classifier, logger *slog.Logger) *Filter {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Filter{
		sink:       sink,
		classifier: classifier,
		logger:     logger,
		buffers:    make(map[string]*buffer),
	}
}

// SetLimit caps the buffered output per snippet. Zero disables the cap.
func (f *Filter) SetLimit(maxBytes int64) {
	f.maxBytes = maxBytes
}

// Attach consumes r in the background. The returned channel yields nil once
// the stream reaches EOF, or the stream error if reading fails, and is then
// closed. A container stream resets the snippet's buffer before reading.
func (f *Filter) Attach(ctx context.Context, r io.Reader, role Role, id string) <-chan error {
	var buf *buffer
	if role == RoleContainerRun {
		buf = &buffer{}
		f.mu.Lock()
		f.buffers[id] = buf
		f.mu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- f.consume(ctx, r, role, id, buf)
	}()
	return done
}

// Release drops the buffer kept for id.
func (f *Filter) Release(id string) {
	f.mu.Lock()
	delete(f.buffers, id)
	f.mu.Unlock()
}

// Output returns the buffered output for id.
func (f *Filter) Output(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.buffers[id]
	if !ok {
		return "", false
	}
	return buf.text.String(), true
}

func (f *Filter) consume(ctx context.Context, r io.Reader, role Role, id string, buf *buffer) error {
	p := make([]byte, chunkSize)
	// carry holds the bytes of a rune split across two reads.
	var carry []byte
	for {
		n, err := r.Read(p)
		if n > 0 {
			data := append(carry, p[:n]...)
			complete, rest := splitIncompleteRune(data)
			carry = append([]byte(nil), rest...)
			if len(complete) > 0 {
				f.handleChunk(ctx, role, id, buf, string(complete))
			}
		}
		if err != nil && len(carry) > 0 {
			f.handleChunk(ctx, role, id, buf, string(carry))
			carry = nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// splitIncompleteRune splits b before a trailing UTF-8 sequence that is cut
// short. Invalid bytes are not held back.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}

func (f *Filter) handleChunk(ctx context.Context, role Role, id string, buf *buffer, raw string) {
	f.logger.Debug(role.String()+" stream", "snippet_id", id, "data", raw)

	if role != RoleContainerRun {
		return
	}

	cleaned := StripControl(raw)
	if !f.classifier.Keep(cleaned) {
		return
	}

	f.mu.Lock()
	if f.buffers[id] != buf {
		// superseded by a newer stream for the same snippet
		f.mu.Unlock()
		return
	}
	if f.maxBytes > 0 {
		room := f.maxBytes - int64(buf.text.Len())
		if room <= 0 {
			f.mu.Unlock()
			return
		}
		if int64(len(cleaned)) > room {
			cleaned = strings.ToValidUTF8(cleaned[:room], "")
		}
	}
	buf.text.WriteString(cleaned)
	cumulative := buf.text.String()
	f.mu.Unlock()

	if f.sink == nil {
		return
	}
	if err := f.sink.AppendOutput(ctx, id, cumulative); err != nil {
		f.logger.Error("write output", "snippet_id", id, "error", err)
	}
}

// StripControl removes C0 controls, DEL and C1 controls.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			return -1
		}
		return r
	}, s)
}

// MultiSink fans cumulative output out to several sinks.
type MultiSink []Sink

func (m MultiSink) AppendOutput(ctx context.Context, id, output string) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendOutput(ctx, id, output); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
