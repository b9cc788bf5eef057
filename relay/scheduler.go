package relay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// ModeConcurrent runs one goroutine per direction.
	ModeConcurrent Mode = "concurrent"
	// ModeMultiplexed waits for whichever handle is ready first and dispatches
	// the unit from a single loop to a per-direction writer.
	ModeMultiplexed Mode = "multiplexed"
)

// direction is one half of the relay. receive blocks until one unit of work
// is ready on the source handle; deliver transforms it and writes it to the
// sink handle. A unit returned by receive is only valid until the next call.
type direction interface {
	name() string
	receive() ([]byte, error)
	deliver(p []byte) error
}

// scheduler decides which direction runs next. halt must be called with the
// first error so the session can release the handles and unblock the other
// direction. run returns once every direction has stopped.
type scheduler interface {
	run(ctx context.Context, halt func(error), dirs ...direction) error
}

func newScheduler(mode Mode) (scheduler, error) {
	switch mode {
	case "", ModeConcurrent:
		return concurrent{}, nil
	case ModeMultiplexed:
		return multiplexed{}, nil
	default:
		return nil, fmt.Errorf("unknown relay mode %q", mode)
	}
}

type concurrent struct{}

func (concurrent) run(_ context.Context, halt func(error), dirs ...direction) error {
	eg := new(errgroup.Group)
	for _, d := range dirs {
		eg.Go(func() error {
			err := pump(d)
			halt(err)
			return err
		})
	}
	return eg.Wait()
}

func pump(d direction) error {
	for {
		p, err := d.receive()
		if err != nil {
			return err
		}
		if err := d.deliver(p); err != nil {
			return err
		}
	}
}

type multiplexed struct{}

type unit struct {
	dir    int
	packet []byte
	err    error
}

// run keeps one reader and one writer goroutine per direction and a single
// dispatch loop deciding what moves next. The dispatcher never blocks on a
// handle: a unit read from one side is handed to that direction's writer, so
// a slow sink cannot hold up the opposite direction. Each direction has at
// most one unit in flight, its reader is only re-armed once the writer is
// done with the receive buffer.
func (multiplexed) run(ctx context.Context, halt func(error), dirs ...direction) error {
	ready := make(chan unit)
	delivered := make(chan unit)
	done := make(chan struct{})

	rearm := make([]chan struct{}, len(dirs))
	sinks := make([]chan []byte, len(dirs))

	var wg sync.WaitGroup
	for i, d := range dirs {
		// one slot each: with a single unit in flight these sends never block
		rearm[i] = make(chan struct{}, 1)
		sinks[i] = make(chan []byte, 1)

		wg.Add(2)
		go func() {
			defer wg.Done()
			readLoop(i, d, ready, rearm[i], done)
		}()
		go func() {
			defer wg.Done()
			writeLoop(i, d, sinks[i], delivered, done)
		}()
	}

	var err error
LOOP:
	for {
		select {
		case <-ctx.Done():
			break LOOP
		case u := <-ready:
			if u.err != nil {
				err = u.err
				break LOOP
			}
			sinks[u.dir] <- u.packet
		case u := <-delivered:
			if u.err != nil {
				err = u.err
				break LOOP
			}
			rearm[u.dir] <- struct{}{}
		}
	}

	// halt releases the handles, which unblocks any reader or writer still
	// inside a system call
	halt(err)
	close(done)
	wg.Wait()
	return err
}

func readLoop(i int, d direction, ready chan<- unit, rearm <-chan struct{}, done <-chan struct{}) {
	for {
		p, err := d.receive()
		select {
		case ready <- unit{dir: i, packet: p, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-rearm:
		case <-done:
			return
		}
	}
}

func writeLoop(i int, d direction, sink <-chan []byte, delivered chan<- unit, done <-chan struct{}) {
	for {
		select {
		case p := <-sink:
			err := d.deliver(p)
			select {
			case delivered <- unit{dir: i, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
