package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/conciergestack/schedmate/internal/metrics"
)

// ValkeyConfig holds connection parameters for the Valkey/Redis-compatible
// server that backs sender-history and policy lookups.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider over a fresh connection per operation.
// Every decision touches the cache at most a handful of times, so connection
// reuse buys little and a stateless provider keeps failure handling trivial.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates the config and pings the server so a bad
// address or password fails at startup instead of on the first decision.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
// Hit and miss counts are reported per key group so the history and policy
// caches can be tuned independently.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(w *wire) error {
		if err := w.send([]byte("GET"), []byte(key)); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		switch r.kind {
		case kindNil:
			return ErrCacheMiss
		case kindBulk:
			payload = r.data
			return nil
		}
		return fmt.Errorf("GET: unexpected reply kind %q", r.kind)
	})

	switch {
	case err == nil:
		metrics.ObserveCacheLookup(KeyGroup(key), "hit")
	case errors.Is(err, ErrCacheMiss):
		metrics.ObserveCacheLookup(KeyGroup(key), "miss")
	default:
		metrics.ObserveCacheLookup(KeyGroup(key), "error")
	}
	return payload, err
}

// Set stores bytes under key, expiring after ttl when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(w *wire) error {
		args := setArgs(key, value, ttl)
		if err := w.send(args...); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		if r.kind != kindStatus || string(r.data) != "OK" {
			return fmt.Errorf("SET: unexpected reply %q", r.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not already exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := p.do(ctx, func(w *wire) error {
		args := append(setArgs(key, value, ttl), []byte("NX"))
		if err := w.send(args...); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		switch r.kind {
		case kindStatus:
			stored = true
			return nil
		case kindNil:
			stored = false
			return nil
		}
		return fmt.Errorf("SET NX: unexpected reply kind %q", r.kind)
	})
	return stored, err
}

// Del removes a key. Policy invalidation after an override goes through here.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(w *wire) error {
		if err := w.send([]byte("DEL"), []byte(key)); err != nil {
			return err
		}
		_, err := w.receive()
		return err
	})
}

// Close is a no-op: the provider holds no long-lived connections.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.do(ctx, func(w *wire) error {
		if err := w.send([]byte("PING")); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		if r.kind != kindStatus || string(r.data) != "PONG" {
			return fmt.Errorf("PING: unexpected reply %q", r.data)
		}
		return nil
	})
}

func setArgs(key string, value []byte, ttl time.Duration) [][]byte {
	args := [][]byte{[]byte("SET"), []byte(key), value}
	if ttl > 0 {
		ms := strconv.FormatInt(ttl.Milliseconds(), 10)
		args = append(args, []byte("PX"), []byte(ms))
	}
	return args
}

// do runs fn over a fresh authenticated connection, retrying timeouts with
// exponential backoff up to MaxRetries attempts.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*wire) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.once(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == p.cfg.MaxRetries-1 {
			return err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return lastErr
}

func (p *ValkeyProvider) once(ctx context.Context, fn func(*wire) error) error {
	w, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer w.close()
	if err := p.handshake(w); err != nil {
		return err
	}
	return fn(w)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*wire, error) {
	timeout := p.cfg.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	dialer := net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		serverName := p.cfg.Addr
		if host, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			serverName = host
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr,
			&tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &wire{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(w *wire) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if p.cfg.Username != "" {
			args = append(args, []byte(p.cfg.Username))
		}
		args = append(args, []byte(p.cfg.Password))
		if err := w.send(args...); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		if r.kind != kindStatus || !strings.EqualFold(string(r.data), "OK") {
			return fmt.Errorf("AUTH: unexpected reply %q", r.data)
		}
	}
	if p.cfg.DB > 0 {
		if err := w.send([]byte("SELECT"), []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
		r, err := w.receive()
		if err != nil {
			return err
		}
		if r.kind != kindStatus || !strings.EqualFold(string(r.data), "OK") {
			return fmt.Errorf("SELECT: unexpected reply %q", r.data)
		}
	}
	return nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wire speaks the subset of RESP the provider needs: array-of-bulk requests,
// and status, error, integer, bulk, and nil replies.
type wire struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type replyKind byte

const (
	kindStatus  replyKind = '+'
	kindInteger replyKind = ':'
	kindBulk    replyKind = '$'
	kindNil     replyKind = '_'
)

type reply struct {
	kind replyKind
	data []byte
}

func (w *wire) close() {
	_ = w.conn.Close()
}

// send writes one command as a RESP array of bulk strings.
func (w *wire) send(args ...[]byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(w.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(w.writer, "$%d\r\n", len(arg))
		w.writer.Write(arg)
		w.writer.WriteString("\r\n")
	}
	return w.writer.Flush()
}

func (w *wire) receive() (reply, error) {
	if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := w.reader.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := w.line()
	if err != nil {
		return reply{}, err
	}

	switch prefix {
	case '+':
		return reply{kind: kindStatus, data: line}, nil
	case '-':
		return reply{}, errors.New(string(line))
	case ':':
		return reply{kind: kindInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, fmt.Errorf("bulk length %q: %w", line, err)
		}
		if size < 0 {
			return reply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(w.reader, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("bulk reply missing CRLF terminator")
		}
		return reply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (w *wire) line() ([]byte, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}
