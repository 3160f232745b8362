//
//  Copyright © Manetu Inc. All rights reserved.
//

package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

// Factory creates audit [Stream] instances.
//
// Early initialization (validating configuration) should happen during
// factory construction; late initialization (opening connections,
// allocating buffers) belongs in [Factory.NewStream].
type Factory interface {
	NewStream() (Stream, error)
}

// Stream delivers appended audit records to an external destination.
//
// Implementations must be safe for concurrent use. Send errors are
// logged by the engine but not retried; implementations wanting retries
// must handle them internally.
type Stream interface {
	Send(rec model.AuditRecord) error
	Close()
}

// StreamOptions configures stream output formatting.
type StreamOptions struct {
	// PrettyPrint enables indented multi-line JSON output. When false,
	// output is compact single-line JSON.
	PrettyPrint bool
}

// IoWriterFactory creates [Stream] instances that write to an
// [io.Writer].
type IoWriterFactory struct {
	writer  io.Writer
	options StreamOptions
}

// IoWriterStream writes audit records as JSON lines to an [io.Writer].
// Writes are serialized, so lines never interleave.
type IoWriterStream struct {
	mu      sync.Mutex
	writer  io.Writer
	options StreamOptions
}

// NewStdoutFactory creates a [Factory] that writes audit records to
// stdout, suitable for environments where stdout is captured by a log
// aggregator.
func NewStdoutFactory() Factory {
	return NewIoWriterFactory(os.Stdout)
}

// NewIoWriterFactory creates a [Factory] that writes audit records to
// the specified [io.Writer].
func NewIoWriterFactory(w io.Writer) Factory {
	return NewIoWriterFactoryWithOptions(w, StreamOptions{})
}

// NewIoWriterFactoryWithOptions creates a [Factory] with explicit
// formatting options.
func NewIoWriterFactoryWithOptions(w io.Writer, opts StreamOptions) Factory {
	return &IoWriterFactory{writer: w, options: opts}
}

// NewStream creates a new [IoWriterStream] bound to the configured
// writer.
func (f *IoWriterFactory) NewStream() (Stream, error) {
	return &IoWriterStream{writer: f.writer, options: f.options}, nil
}

// Send marshals the record to JSON and writes it followed by a newline.
func (s *IoWriterStream) Send(rec model.AuditRecord) error {
	var (
		out []byte
		err error
	)
	if s.options.PrettyPrint {
		out, err = json.MarshalIndent(rec, "", "  ")
	} else {
		out, err = json.Marshal(rec)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(s.writer, string(out))
	return err
}

// Close is a no-op; the underlying writer stays owned by the caller.
func (s *IoWriterStream) Close() {}

// NullFactory is a factory for NullStream.
type NullFactory struct{}

// NullStream drops all records. Useful for disabling audit delivery as
// a configuration option, such as in tests and benchmarks.
type NullStream struct{}

// NewNullFactory creates a factory whose streams discard every record.
func NewNullFactory() Factory {
	return &NullFactory{}
}

// NewStream creates a new NullStream to satisfy the Factory interface.
func (f *NullFactory) NewStream() (Stream, error) {
	return &NullStream{}, nil
}

// Send drops the record on the floor.
func (s *NullStream) Send(model.AuditRecord) error { return nil }

// Close is a no-op for NullStream.
func (s *NullStream) Close() {}

// ChannelFactory creates streams that deliver records to a Go channel,
// letting embedders consume the trail programmatically.
type ChannelFactory struct {
	ch chan model.AuditRecord
}

// ChannelStream delivers records to the factory's channel. Records are
// dropped when the channel is full rather than blocking the writer.
type ChannelStream struct {
	ch chan model.AuditRecord
}

// NewChannelFactory creates a factory delivering to a channel of the
// given capacity.
func NewChannelFactory(capacity int) *ChannelFactory {
	return &ChannelFactory{ch: make(chan model.AuditRecord, capacity)}
}

// Records returns the delivery channel.
func (f *ChannelFactory) Records() <-chan model.AuditRecord {
	return f.ch
}

// NewStream creates a new [ChannelStream] bound to the factory channel.
func (f *ChannelFactory) NewStream() (Stream, error) {
	return &ChannelStream{ch: f.ch}, nil
}

// Send delivers the record unless the channel is full.
func (s *ChannelStream) Send(rec model.AuditRecord) error {
	select {
	case s.ch <- rec:
		return nil
	default:
		return fmt.Errorf("audit channel full, record %d dropped", rec.ID)
	}
}

// Close is a no-op; the channel stays owned by the factory.
func (s *ChannelStream) Close() {}
