package vast

import "context"

// Source is either a document URL or caller-supplied bytes. Data wins when
// both are set.
type Source struct {
	URL  string
	Data []byte
}

// Listener receives the outcome of Load. Exactly one method is called, once.
type Listener interface {
	AdReady(m *Model)
	AdFailed(err error)
}

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnReady  func(m *Model)
	OnFailed func(err error)
}

func (l ListenerFuncs) AdReady(m *Model) {
	if l.OnReady != nil {
		l.OnReady(m)
	}
}

func (l ListenerFuncs) AdFailed(err error) {
	if l.OnFailed != nil {
		l.OnFailed(err)
	}
}

// ParseAsync runs Parse on its own goroutine and hands the result to
// completion exactly once.
func (p *Parser) ParseAsync(ctx context.Context, rawURL string, completion func(*Model, error)) {
	go func() {
		completion(p.Parse(ctx, rawURL))
	}()
}

// ParseBytesAsync is the asynchronous form of ParseBytes.
func (p *Parser) ParseBytesAsync(ctx context.Context, data []byte, completion func(*Model, error)) {
	go func() {
		completion(p.ParseBytes(ctx, data))
	}()
}

// Load parses source in the background and notifies listener.
func (p *Parser) Load(ctx context.Context, source Source, listener Listener) {
	done := func(m *Model, err error) {
		if listener == nil {
			return
		}
		if err != nil {
			listener.AdFailed(err)
			return
		}
		listener.AdReady(m)
	}
	if source.Data != nil {
		p.ParseBytesAsync(ctx, source.Data, done)
		return
	}
	p.ParseAsync(ctx, source.URL, done)
}
