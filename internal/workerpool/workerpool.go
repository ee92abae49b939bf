// Package workerpool runs several independent transfer service instances on
// one shared listening endpoint and keeps them alive.
package workerpool

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// DefaultCap bounds the instance count regardless of core count.
const DefaultCap = 4

// Instance is one independently restartable service instance. Serve blocks
// until the instance terminates; a return while the pool is still running is
// treated as a crash.
type Instance interface {
	Serve(l net.Listener) error
}

// HTTPInstance adapts an http.Server to the Instance interface.
type HTTPInstance struct {
	Server *http.Server
}

func (i *HTTPInstance) Serve(l net.Listener) error {
	return i.Server.Serve(l)
}

// Size returns min(available cores, cap). Zero or negative cap falls back to
// DefaultCap.
func Size(cap int) int {
	if cap <= 0 {
		cap = DefaultCap
	}
	if n := runtime.NumCPU(); n < cap {
		return n
	}
	return cap
}

// Pool supervises size instances, all accepting from the same listener. The
// instances share no in-memory state; crashed instances are replaced
// immediately, with no backoff and no restart limit.
type Pool struct {
	listener net.Listener
	size     int
	build    func(instance int) Instance
}

// New creates a pool of size instances built by build. The build function is
// called once per instance start, including restarts, so every replacement
// gets fresh state.
func New(l net.Listener, size int, build func(instance int) Instance) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{listener: l, size: size, build: build}
}

// Run starts all instances and blocks until ctx is cancelled. Cancellation
// closes the shared listener, which stops every instance; Run returns once
// all supervisors have exited.
func (p *Pool) Run(ctx context.Context) {
	zap.L().Sugar().Infow("starting worker pool",
		"instances", p.size,
		"addr", p.listener.Addr().String())

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.supervise(ctx, id)
		}(i)
	}

	<-ctx.Done()
	p.listener.Close()
	wg.Wait()
}

// supervise keeps one instance slot occupied: whenever the instance's Serve
// returns while the pool is still running, a replacement is started.
func (p *Pool) supervise(ctx context.Context, id int) {
	for {
		instance := p.build(id)
		err := instance.Serve(p.listener)
		if ctx.Err() != nil {
			return
		}
		zap.L().Sugar().Warnw("instance exited, restarting",
			"instance", id,
			"err", err)
	}
}
