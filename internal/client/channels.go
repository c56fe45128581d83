package client

import (
	"context"
	"sync"
)

// Channels tracks one in-flight request per logical channel ("ledger",
// "dashboard", ...). Starting a request on a busy channel cancels the
// previous one with ErrSuperseded.
type Channels struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]channelCall
}

type channelCall struct {
	id     uint64
	cancel context.CancelCauseFunc
}

func NewChannels() *Channels {
	return &Channels{inflight: make(map[string]channelCall)}
}

// Begin supersedes whatever runs on name and returns the context for the
// new request. done must be called when the request finishes.
func (ch *Channels) Begin(ctx context.Context, name string) (context.Context, func()) {
	callCtx, cancel := context.WithCancelCause(ctx)

	ch.mu.Lock()
	if prev, ok := ch.inflight[name]; ok {
		prev.cancel(ErrSuperseded)
	}
	ch.seq++
	id := ch.seq
	ch.inflight[name] = channelCall{id: id, cancel: cancel}
	ch.mu.Unlock()

	done := func() {
		ch.mu.Lock()
		if cur, ok := ch.inflight[name]; ok && cur.id == id {
			delete(ch.inflight, name)
		}
		ch.mu.Unlock()
		cancel(nil)
	}
	return callCtx, done
}

// Commit runs apply unless ctx was superseded. A newer Begin cancels its
// predecessor under the same lock, so once Commit has checked, no newer
// request can slip in before apply returns.
func (ch *Channels) Commit(ctx context.Context, apply func()) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if superseded(ctx) {
		return ErrSuperseded
	}
	apply()
	return nil
}

// superseded reports whether ctx was cancelled by a newer request
func superseded(ctx context.Context) bool {
	return context.Cause(ctx) == ErrSuperseded
}
