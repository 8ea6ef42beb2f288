package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aristath/phasegate/internal/backend"
)

// fakeBackend replays scripted replies, one per Send.
type fakeBackend struct {
	id      string
	replies []string
	errs    []error
	mu      sync.Mutex
	sent    []string
	closed  bool
}

func (f *fakeBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.sent)
	f.sent = append(f.sent, msg.Content)
	if n < len(f.errs) && f.errs[n] != nil {
		return backend.Response{}, f.errs[n]
	}
	if n >= len(f.replies) {
		return backend.Response{}, errors.New("no scripted reply")
	}
	return backend.Response{Content: f.replies[n], SessionID: f.id}, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) SessionID() string { return f.id }

// fakeFactory hands out a new scripted backend per call.
type fakeFactory struct {
	mu        sync.Mutex
	script    func(role Role, n int) *fakeBackend
	instances []*fakeBackend
}

func (ff *fakeFactory) New(role Role) (backend.Backend, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	b := ff.script(role, len(ff.instances))
	b.id = fmt.Sprintf("session-%d", len(ff.instances))
	ff.instances = append(ff.instances, b)
	return b, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.instances)
}

func reply(json string) string {
	return "Done.\n```json\n" + json + "\n```"
}

// blockingBackend never answers until ctx is done.
type blockingBackend struct{}

func (blockingBackend) Send(ctx context.Context, _ backend.Message) (backend.Response, error) {
	<-ctx.Done()
	return backend.Response{}, ctx.Err()
}
func (blockingBackend) Close() error      { return nil }
func (blockingBackend) SessionID() string { return "blocking" }

// angleBackend fails whenever the prompt contains fail.
type angleBackend struct {
	fail     string
	answered bool
}

func (a *angleBackend) Send(_ context.Context, msg backend.Message) (backend.Response, error) {
	if strings.Contains(msg.Content, a.fail) {
		return backend.Response{}, errors.New("member crashed")
	}
	a.answered = true
	return backend.Response{Content: reply(`{"narrative": "proposal"}`)}, nil
}
func (a *angleBackend) Close() error      { return nil }
func (a *angleBackend) SessionID() string { return "angle" }

// slowOnceBackend hangs on the first attempt of the "slow" angle and answers
// every other send.
type slowOnceBackend struct {
	mu       *sync.Mutex
	attempts *int
}

func (s slowOnceBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	if strings.Contains(msg.Content, "Focus: slow") {
		s.mu.Lock()
		*s.attempts++
		first := *s.attempts == 1
		s.mu.Unlock()
		if first {
			<-ctx.Done()
			return backend.Response{}, ctx.Err()
		}
	}
	return backend.Response{Content: reply(`{"narrative": "done"}`)}, nil
}
func (slowOnceBackend) Close() error      { return nil }
func (slowOnceBackend) SessionID() string { return "slow-once" }
