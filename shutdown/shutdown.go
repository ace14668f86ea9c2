// Package shutdown coordinates ordered teardown of the server.
//
// Handlers register with a phase; on shutdown, lower phases run first and
// handlers within a phase run concurrently. The server registers its HTTP
// listener ahead of the store so in-flight requests drain before the
// database closes.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/wrannaman/agentdo/logging"
)

// Conventional phases. Lower runs first.
const (
	PhaseListener = 10
	PhaseStore    = 20
)

// DefaultTimeout bounds the whole teardown.
const DefaultTimeout = 15 * time.Second

// Handler is one teardown step.
type Handler func(ctx context.Context) error

type registration struct {
	name    string
	phase   int
	handler Handler
}

// Coordinator runs registered handlers in phase order, exactly once.
type Coordinator struct {
	log     *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	handlers []registration

	once sync.Once
	done chan struct{}
	err  error
}

// NewCoordinator creates a coordinator.
func NewCoordinator(log *logging.Logger, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a named handler at the given phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: handler})
}

// HandleSignals triggers shutdown on SIGINT or SIGTERM.
func (c *Coordinator) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		c.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
		c.Shutdown()
	}()
}

// Shutdown runs every handler once, in phase order. Safe to call from
// multiple goroutines; later calls wait for the first to finish.
func (c *Coordinator) Shutdown() error {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var firstErr error
	for i := 0; i < len(handlers); {
		j := i
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}

		var wg sync.WaitGroup
		errs := make([]error, j-i)
		for k := i; k < j; k++ {
			wg.Add(1)
			go func(idx int, reg registration) {
				defer wg.Done()
				start := time.Now()
				if err := reg.handler(ctx); err != nil {
					errs[idx] = fmt.Errorf("%s: %w", reg.name, err)
					c.log.Error("handler failed", map[string]interface{}{
						"handler": reg.name,
						"error":   err.Error(),
					})
					return
				}
				c.log.Info("handler done", map[string]interface{}{
					"handler":  reg.name,
					"duration": time.Since(start).String(),
				})
			}(k-i, handlers[k])
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		i = j
	}
	return firstErr
}
