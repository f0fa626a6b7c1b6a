// Package ports finds a currently-bindable TCP port for a project's dev
// server. Allocation is a sequential scan over an inclusive range: the
// lowest free port wins, by design, so repeated starts of the same project
// land on stable ports.
package ports

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// DefaultStart and DefaultEnd bound the fallback scan range used when
	// configuration supplies no explicit bounds.
	DefaultStart = 3136
	DefaultEnd   = 3999

	// defaultSpan is the width applied when only a start bound is given.
	defaultSpan = DefaultEnd - DefaultStart

	maxPort = 65535

	// probeTimeout caps each individual bind attempt.
	probeTimeout = 500 * time.Millisecond
)

// ErrInvalidPortRange is returned when the resolved end bound precedes the
// start bound.
var ErrInvalidPortRange = errors.New("ports: invalid port range")

// RangeExhaustedError reports that no port in the scanned range accepted
// the bind probe.
type RangeExhaustedError struct {
	Start int
	End   int
}

func (e *RangeExhaustedError) Error() string {
	return fmt.Sprintf("ports: no free port in range %d-%d", e.Start, e.End)
}

// Range is an inclusive scan window.
type Range struct {
	Start int
	End   int
}

// ResolveRange turns raw configuration values into a validated Range.
// A non-positive or out-of-range value counts as absent. A start without
// an end expands to min(start+defaultSpan, 65535). An end that precedes
// the resolved start is an error.
func ResolveRange(start, end int) (Range, error) {
	if start <= 0 || start > maxPort {
		start = 0
	}
	if end <= 0 || end > maxPort {
		end = 0
	}

	switch {
	case start == 0 && end == 0:
		return Range{Start: DefaultStart, End: DefaultEnd}, nil
	case start != 0 && end == 0:
		end = start + defaultSpan
		if end > maxPort {
			end = maxPort
		}
	case start == 0:
		start = DefaultStart
	}

	if end < start {
		return Range{}, fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Allocator probes candidate ports until one accepts a bind.
type Allocator struct {
	timeout time.Duration
}

// NewAllocator creates an allocator with the default probe timeout.
func NewAllocator() *Allocator {
	return &Allocator{timeout: probeTimeout}
}

// Allocate scans r from Start to End and returns the first port that
// accepts both an IPv4 wildcard and an IPv4 loopback bind. If no port in
// the range qualifies, it returns a *RangeExhaustedError naming the
// scanned bounds.
func (a *Allocator) Allocate(ctx context.Context, r Range) (int, error) {
	if r.End < r.Start || r.Start <= 0 || r.End > maxPort {
		return 0, fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, r.Start, r.End)
	}

	for port := r.Start; port <= r.End; port++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if a.probe(port) {
			return port, nil
		}
	}

	return 0, &RangeExhaustedError{Start: r.Start, End: r.End}
}

// probe attempts four binds concurrently: IPv4 wildcard, IPv6 wildcard,
// IPv4 loopback, IPv6 loopback. The port is accepted only when both IPv4
// binds succeed. IPv6 outcomes are ignored entirely: some hosts have no
// usable IPv6 loopback, and that must not disqualify an otherwise free
// port.
func (a *Allocator) probe(port int) bool {
	attempts := []struct {
		network string
		addr    string
	}{
		{"tcp4", fmt.Sprintf(":%d", port)},
		{"tcp6", fmt.Sprintf(":%d", port)},
		{"tcp4", fmt.Sprintf("127.0.0.1:%d", port)},
		{"tcp6", fmt.Sprintf("[::1]:%d", port)},
	}

	results := make([]bool, len(attempts))
	var wg sync.WaitGroup
	for i, attempt := range attempts {
		wg.Add(1)
		go func(i int, network, addr string) {
			defer wg.Done()
			results[i] = tryBind(network, addr, a.timeout)
		}(i, attempt.network, attempt.addr)
	}
	wg.Wait()

	return results[0] && results[2]
}

// tryBind binds and immediately releases a listener. A bind that takes
// longer than the timeout counts as failure; the late listener, if any,
// is closed by the probing goroutine.
func tryBind(network, addr string, timeout time.Duration) bool {
	type bindResult struct {
		ln  net.Listener
		err error
	}

	done := make(chan bindResult, 1)
	go func() {
		ln, err := net.Listen(network, addr)
		done <- bindResult{ln: ln, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return false
		}
		_ = res.ln.Close()
		return true
	case <-time.After(timeout):
		go func() {
			if res := <-done; res.ln != nil {
				_ = res.ln.Close()
			}
		}()
		return false
	}
}
