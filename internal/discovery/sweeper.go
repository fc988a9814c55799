// Package discovery scans an IPv4 host range for listening printers
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/thereceipt/escpos-bridge/internal/transport"
)

const (
	// DefaultConcurrency is the number of simultaneous probes
	DefaultConcurrency = 16

	// MaxConcurrency caps configured fan-out
	MaxConcurrency = 64
)

var (
	// ErrNoPrinterFound is returned when no host in the range responded
	ErrNoPrinterFound = errors.New("no printer found")

	// ErrInvalidRange is returned for malformed scan ranges
	ErrInvalidRange = errors.New("invalid scan range")
)

// ScanRange is a contiguous run of hosts BaseNetwork.Start..BaseNetwork.End
type ScanRange struct {
	BaseNetwork string
	Start       int
	End         int
	Port        int
}

// Validate checks the base network is three IPv4 octets and
// 1 <= Start <= End <= 254.
func (r ScanRange) Validate() error {
	if strings.Count(r.BaseNetwork, ".") != 2 || net.ParseIP(r.BaseNetwork+".1").To4() == nil {
		return fmt.Errorf("%w: base network %q must be three IPv4 octets", ErrInvalidRange, r.BaseNetwork)
	}
	if r.Start < 1 || r.End > 254 || r.Start > r.End {
		return fmt.Errorf("%w: host range %d-%d must satisfy 1 <= start <= end <= 254", ErrInvalidRange, r.Start, r.End)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidRange, r.Port)
	}
	return nil
}

// Endpoints lists the range in ascending host order
func (r ScanRange) Endpoints() []transport.Endpoint {
	endpoints := make([]transport.Endpoint, 0, r.End-r.Start+1)
	for host := r.Start; host <= r.End; host++ {
		endpoints = append(endpoints, transport.Endpoint{
			Host: fmt.Sprintf("%s.%d", r.BaseNetwork, host),
			Port: r.Port,
		})
	}
	return endpoints
}

// String formats the range as base.start-end
func (r ScanRange) String() string {
	return fmt.Sprintf("%s.%d-%d", r.BaseNetwork, r.Start, r.End)
}

// ProbeFunc reports whether a printer accepts connections at ep. It must
// return promptly once ctx is cancelled.
type ProbeFunc func(ctx context.Context, ep transport.Endpoint) error

// Sweeper probes ranges with bounded concurrency
type Sweeper struct {
	probe       ProbeFunc
	concurrency int
	logger      *zap.Logger
}

// NewSweeper creates a sweeper. concurrency is clamped to [1, MaxConcurrency].
func NewSweeper(probe ProbeFunc, concurrency int, logger *zap.Logger) *Sweeper {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		probe:       probe,
		concurrency: concurrency,
		logger:      logger,
	}
}

type probeResult struct {
	index int
	ok    bool
}

const (
	pending = iota
	responded
	silent
)

// Find returns the lowest-numbered host in r that accepts a connection.
// Probes run in ascending order on at most concurrency workers; a host is
// reported only once every lower host has failed, so the answer does not
// depend on scheduling. Remaining probes are cancelled and their results
// discarded before Find returns.
func (s *Sweeper) Find(ctx context.Context, r ScanRange) (transport.Endpoint, error) {
	if err := r.Validate(); err != nil {
		return transport.Endpoint{}, err
	}

	endpoints := r.Endpoints()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	indexes := make(chan int)
	results := make(chan probeResult, len(endpoints))

	workers := s.concurrency
	if workers > len(endpoints) {
		workers = len(endpoints)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				err := s.probe(ctx, endpoints[idx])
				results <- probeResult{index: idx, ok: err == nil}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(indexes)
		for idx := range endpoints {
			select {
			case indexes <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	state := make([]int, len(endpoints))
	next := 0
	for next < len(endpoints) {
		var res probeResult
		select {
		case res = <-results:
		case <-ctx.Done():
			return transport.Endpoint{}, ctx.Err()
		}

		if res.ok {
			state[res.index] = responded
		} else {
			state[res.index] = silent
		}

		for next < len(endpoints) && state[next] != pending {
			if state[next] == responded {
				s.logger.Info("printer found",
					zap.String("endpoint", endpoints[next].String()),
					zap.String("range", r.String()),
				)
				return endpoints[next], nil
			}
			next++
		}
	}

	if err := ctx.Err(); err != nil {
		return transport.Endpoint{}, err
	}

	s.logger.Info("no printer found", zap.String("range", r.String()))
	return transport.Endpoint{}, fmt.Errorf("%w in %s", ErrNoPrinterFound, r)
}
