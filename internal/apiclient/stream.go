package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/punchliner/api/internal/model"
)

// EventStream reads server-sent task events. The channel closes after the
// terminal event, when the server ends the stream or when Close is called.
type EventStream struct {
	events chan model.Event
	body   io.Closer
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newEventStream(body io.ReadCloser, cancel context.CancelFunc) *EventStream {
	s := &EventStream{
		events: make(chan model.Event, 16),
		body:   body,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.read(body)
	return s
}

func completedStream(ev model.Event) *EventStream {
	s := &EventStream{events: make(chan model.Event, 1), cancel: func() {}, done: make(chan struct{})}
	s.events <- ev
	close(s.events)
	return s
}

// Events returns the event channel
func (s *EventStream) Events() <-chan model.Event {
	return s.events
}

// Close stops reading and releases the connection
func (s *EventStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		if s.body != nil {
			s.body.Close()
		}
	})
}

func (s *EventStream) read(r io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev model.Event
			err := json.Unmarshal([]byte(data.String()), &ev)
			data.Reset()
			if err != nil {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
			if ev.Status.IsTerminal() {
				return
			}

		case strings.HasPrefix(line, ":"):
			// comment, used for heartbeats

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
