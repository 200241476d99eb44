package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/xaenox/wcf-bot/internal/gateway"
	"github.com/xaenox/wcf-bot/internal/models"
)

var errSend = errors.New("send failed")

type sent struct {
	kind     string
	body     string
	receiver string
	filename string
	aters    string
}

type fakeSender struct {
	mu        sync.Mutex
	calls     []sent
	failText  bool
	failFile  bool
	failImage bool
}

func (f *fakeSender) record(s sent, fail bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if fail {
		return errSend
	}
	return nil
}

func (f *fakeSender) SendText(ctx context.Context, msg, receiver, aters string) error {
	return f.record(sent{kind: "text", body: msg, receiver: receiver, aters: aters}, f.failText)
}

func (f *fakeSender) SendFile(ctx context.Context, data, filename, receiver string) error {
	return f.record(sent{kind: "file", body: data, receiver: receiver, filename: filename}, f.failFile)
}

func (f *fakeSender) SendImage(ctx context.Context, data, filename, receiver string) error {
	return f.record(sent{kind: "image", body: data, receiver: receiver, filename: filename}, f.failImage)
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

func (f *fakeSender) kinds() []string {
	var out []string
	for _, c := range f.all() {
		out = append(out, c.kind)
	}
	return out
}

type chatCall struct {
	message string
	mode    models.Mode
	history []models.ConversationTurn
}

type fakeChat struct {
	reply string
	err   error
	calls []chatCall
}

func (f *fakeChat) Complete(ctx context.Context, message string, mode models.Mode, history []models.ConversationTurn) (string, error) {
	f.calls = append(f.calls, chatCall{message: message, mode: mode, history: history})
	return f.reply, f.err
}

type fakeWriter struct {
	writes  []string
	err     error
	path    string
	content map[string][]byte
}

func (f *fakeWriter) Write(content, dir, filename string) (string, error) {
	f.writes = append(f.writes, content)
	if f.err != nil {
		return "", f.err
	}
	path := dir + "/" + filename
	if f.content == nil {
		f.content = map[string][]byte{}
	}
	f.content[path] = []byte(content)
	f.path = path
	return path, nil
}

func (f *fakeWriter) read(path string) ([]byte, error) {
	data, ok := f.content[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// scriptedSource returns queued results from Subscribe and cancels once drained.
type scriptedSource struct {
	results []subscribeResult
	calls   int
	cancel  context.CancelFunc
}

type subscribeResult struct {
	stream gateway.Stream
	err    error
}

func (s *scriptedSource) Subscribe(ctx context.Context) (gateway.Stream, error) {
	s.calls++
	if len(s.results) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.stream, r.err
}

type sliceStream struct {
	lines  []string
	end    error
	closed bool
}

func (s *sliceStream) Next() (string, error) {
	if len(s.lines) == 0 {
		if s.end != nil {
			return "", s.end
		}
		return "", gateway.ErrStreamClosed
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
