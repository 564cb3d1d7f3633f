package netscan

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/semaphore"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Pinger performs best-effort reachability checks over a list of hosts.
// It prefers unprivileged ICMP echo (udp4 datagram sockets); when ICMP is
// unavailable it degrades to a short TCP connect against FallbackPort.
// Per-host failures are never fatal; only the survivor set is returned.
type Pinger struct {
	Timeout      time.Duration
	Concurrency  int64
	FallbackPort int
}

// NewPinger returns a Pinger with the given per-host timeout and
// concurrency cap.
func NewPinger(timeout time.Duration, concurrency int) *Pinger {
	if timeout <= 0 {
		timeout = time.Second
	}
	if concurrency <= 0 {
		concurrency = 64
	}
	return &Pinger{Timeout: timeout, Concurrency: int64(concurrency), FallbackPort: 22}
}

// Sweep probes every address concurrently and returns the subset that
// responded within the timeout, preserving input order.
func (p *Pinger) Sweep(ctx context.Context, ips []string) []string {
	sem := semaphore.NewWeighted(p.Concurrency)
	alive := make([]bool, len(ips))
	var wg sync.WaitGroup

	for i, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			defer sem.Release(1)
			alive[i] = p.probe(ctx, ip)
		}(i, ip)
	}
	wg.Wait()

	out := make([]string, 0, len(ips))
	for i, ok := range alive {
		if ok {
			out = append(out, ips[i])
		}
	}
	util.Debugf("liveness sweep: %d/%d hosts reachable", len(out), len(ips))
	return out
}

func (p *Pinger) probe(ctx context.Context, ip string) bool {
	if p.icmpEcho(ip) {
		return true
	}
	return p.tcpFallback(ctx, ip)
}

// icmpEcho sends a single echo request and waits for a reply from the
// target. Uses the unprivileged datagram ICMP socket; on systems where
// that is disabled the listen fails and the TCP fallback takes over.
func (p *Pinger) icmpEcho(ip string) bool {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("netwatch-probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	dst := &net.UDPAddr{IP: net.ParseIP(ip)}
	if err := conn.SetDeadline(time.Now().Add(p.Timeout)); err != nil {
		return false
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return false // deadline hit
		}
		parsed, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), reply[:n])
		if err != nil {
			continue
		}
		if parsed.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if host, _, splitErr := net.SplitHostPort(peer.String()); splitErr == nil && host == ip {
			return true
		}
		if peer.String() == ip {
			return true
		}
	}
}

// tcpFallback treats a completed (or actively refused) TCP connect as
// proof of liveness: a RST still means a host is there.
func (p *Pinger) tcpFallback(ctx context.Context, ip string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, itoa(p.FallbackPort)))
	if err == nil {
		conn.Close()
		return true
	}
	var opErr *net.OpError
	if asOpError(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		// Refused means reachable; timeout or route errors do not.
		return isConnRefused(opErr)
	}
	return false
}
