package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sent is one message captured by the offline gateway.
type Sent struct {
	Kind     string
	Receiver string
	Body     string
	Filename string
	Aters    string
}

// Offline stands in for the gateway in test mode: sends are logged and kept.
type Offline struct {
	mu     sync.Mutex
	sent   []Sent
	logger *zap.Logger
}

func NewOffline(logger *zap.Logger) *Offline {
	return &Offline{logger: logger}
}

func (o *Offline) add(s Sent) {
	o.mu.Lock()
	o.sent = append(o.sent, s)
	o.mu.Unlock()
	o.logger.Info("Offline gateway send",
		zap.String("kind", s.Kind),
		zap.String("receiver", s.Receiver),
		zap.String("filename", s.Filename),
		zap.Int("length", len(s.Body)))
}

func (o *Offline) SendText(ctx context.Context, msg, receiver, aters string) error {
	o.add(Sent{Kind: "text", Receiver: receiver, Body: msg, Aters: aters})
	return nil
}

func (o *Offline) SendFile(ctx context.Context, dataBase64, filename, receiver string) error {
	o.add(Sent{Kind: "file", Receiver: receiver, Body: dataBase64, Filename: filename})
	return nil
}

func (o *Offline) SendImage(ctx context.Context, dataBase64, filename, receiver string) error {
	o.add(Sent{Kind: "image", Receiver: receiver, Body: dataBase64, Filename: filename})
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Offline) Messages() []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Sent(nil), o.sent...)
}
