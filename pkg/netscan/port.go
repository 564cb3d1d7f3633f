package netscan

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// PortScanner checks TCP reachability of a single port across many
// hosts. It is the cheap pre-filter in front of the SSH stage: refused,
// reset, and timed-out connects all count as closed.
type PortScanner struct {
	Timeout     time.Duration
	Concurrency int64
}

// NewPortScanner returns a PortScanner with the given per-host timeout
// and concurrency cap.
func NewPortScanner(timeout time.Duration, concurrency int) *PortScanner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 64
	}
	return &PortScanner{Timeout: timeout, Concurrency: int64(concurrency)}
}

// Scan connects to ip:port for every address concurrently and returns
// the subset whose port accepted the connection, preserving input order.
func (s *PortScanner) Scan(ctx context.Context, ips []string, port int) []string {
	sem := semaphore.NewWeighted(s.Concurrency)
	open := make([]bool, len(ips))
	var wg sync.WaitGroup

	for i, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			defer sem.Release(1)
			open[i] = s.isOpen(ctx, ip, port)
		}(i, ip)
	}
	wg.Wait()

	out := make([]string, 0, len(ips))
	for i, ok := range open {
		if ok {
			out = append(out, ips[i])
		}
	}
	util.Debugf("port scan: %d/%d hosts have port %d open", len(out), len(ips), port)
	return out
}

func (s *PortScanner) isOpen(ctx context.Context, ip string, port int) bool {
	dialCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
