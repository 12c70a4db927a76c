package comm

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/treegrid/internal/auth"
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/protocol/frame"
	"github.com/danmuck/treegrid/internal/protocol/schema"
	"github.com/danmuck/treegrid/internal/protocol/session"
	"github.com/danmuck/treegrid/internal/protocol/tlv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBadToken      = errors.New("comm: peer presented wrong group token")
	ErrUnexpectedMsg = errors.New("comm: unexpected message type")
	ErrOutOfOrder    = errors.New("comm: round sequence out of order")
	ErrBadPeer       = errors.New("comm: peer rank invalid or duplicated")
	ErrBadRank       = errors.New("comm: rank outside peer list")
)

const abortWriteTimeout = time.Second

// TCPConfig describes this rank's place in a mesh.
type TCPConfig struct {
	Rank int
	// Peers holds the listen address of every rank, indexed by rank.
	Peers   []string
	Token   string
	// Auth checks the token a peer presents; nil means auth.GroupToken(Token).
	Auth    auth.Validator
	Session session.Config
	Limits  frame.Limits
}

func DefaultTCPConfig(rank int, peers []string) TCPConfig {
	return TCPConfig{
		Rank:    rank,
		Peers:   peers,
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// TCP is a full mesh of framed connections, one per peer. Lower ranks
// accept, higher ranks dial.
type TCP struct {
	group
	cfg    TCPConfig
	links  []*link
	seq    uint64
	logger zerolog.Logger

	mu     sync.Mutex
	broken error
	aborts sync.WaitGroup
}

type link struct {
	peer int
	conn net.Conn
	r    *bufio.Reader
	// wmu keeps round and abort frames from interleaving on conn.
	wmu sync.Mutex
}

// DialMesh connects this rank to every other rank. It takes ownership of
// ln, which must be listening on Peers[Rank], and closes it once the mesh
// is complete.
func DialMesh(ctx context.Context, cfg TCPConfig, ln net.Listener) (*TCP, error) {
	size := len(cfg.Peers)
	if cfg.Rank < 0 || cfg.Rank >= size {
		_ = ln.Close()
		return nil, fmt.Errorf("%w: rank %d of %d", ErrBadRank, cfg.Rank, size)
	}
	if err := cfg.Session.ValidateTransport(); err != nil {
		_ = ln.Close()
		return nil, err
	}
	t := &TCP{
		cfg:    cfg,
		links:  make([]*link, size),
		logger: logging.For("comm.tcp").With().Int("rank", cfg.Rank).Int("size", size).Logger(),
	}
	t.group = group{rank: cfg.Rank, size: size, r: t}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = ln.Close() })
	defer stop()
	g.Go(func() error { return t.acceptPeers(ln) })
	for peer := 0; peer < cfg.Rank; peer++ {
		g.Go(func() error { return t.dialPeer(gctx, peer) })
	}
	err := g.Wait()
	_ = ln.Close()
	if err != nil {
		t.Close()
		return nil, err
	}
	t.logger.Debug().Msg("comm.DialMesh mesh ready")
	return t, nil
}

func (t *TCP) acceptPeers(ln net.Listener) error {
	var serverTLS *tls.Config
	if t.cfg.Session.TLS.Enabled {
		c, err := t.cfg.Session.ServerTLS()
		if err != nil {
			return err
		}
		serverTLS = c
	}
	for want := t.size - 1 - t.rank; want > 0; want-- {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if serverTLS != nil {
			conn = tls.Server(conn, serverTLS)
		}
		l := &link{conn: conn, r: bufio.NewReader(conn)}
		peer, err := t.handshake(l, true)
		if err != nil {
			_ = conn.Close()
			return err
		}
		if peer <= t.rank || peer >= t.size {
			_ = conn.Close()
			return fmt.Errorf("%w: accepted rank %d", ErrBadPeer, peer)
		}
		if err := t.attach(peer, l); err != nil {
			_ = conn.Close()
			return err
		}
	}
	return nil
}

func (t *TCP) dialPeer(ctx context.Context, peer int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(t.rank)))
	sc := t.cfg.Session
	addr := t.cfg.Peers[peer]
	for attempt := 1; ; attempt++ {
		conn, err := t.dial(ctx, addr)
		if err == nil {
			l := &link{conn: conn, r: bufio.NewReader(conn)}
			got, err := t.handshake(l, false)
			if err != nil {
				_ = conn.Close()
				return err
			}
			if got != peer {
				_ = conn.Close()
				return fmt.Errorf("%w: dialed %s for rank %d, got rank %d", ErrBadPeer, addr, peer, got)
			}
			return t.attach(peer, l)
		}
		if !session.ShouldRetry(sc.MaxConnectAttempts, attempt) {
			return fmt.Errorf("dial rank %d at %s: %w", peer, addr, err)
		}
		t.logger.Debug().Int("peer", peer).Int("attempt", attempt).Err(err).Msg("comm.TCP.dialPeer retry")
		if err := session.SleepBackoff(ctx, sc.Backoff, attempt, rng); err != nil {
			return err
		}
	}
}

func (t *TCP) dial(ctx context.Context, addr string) (net.Conn, error) {
	sc := t.cfg.Session
	dialer := net.Dialer{Timeout: sc.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !sc.TLS.Enabled {
		return raw, nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	clientTLS, err := sc.ClientTLS(host)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, clientTLS)
	hctx, cancel := context.WithTimeout(ctx, sc.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// handshake swaps hello frames. The acceptor reads first.
func (t *TCP) handshake(l *link, accepting bool) (int, error) {
	_ = l.conn.SetDeadline(time.Now().Add(t.cfg.Session.HandshakeTimeout))
	defer l.conn.SetDeadline(time.Time{})

	hello := frame.New(frame.TypeHello, 0, []byte(t.cfg.Token), tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldRank, uint32(t.rank)),
		tlv.U32(schema.FieldSize, uint32(t.size)),
	}))
	if !accepting {
		if err := frame.WriteFrame(l.conn, hello, t.cfg.Limits); err != nil {
			return -1, err
		}
	}
	f, err := frame.ReadFrame(l.r, t.cfg.Limits)
	if err != nil {
		return -1, fmt.Errorf("read hello: %w", err)
	}
	if f.Header.MessageType != frame.TypeHello {
		return -1, fmt.Errorf("%w: %d during hello", ErrUnexpectedMsg, f.Header.MessageType)
	}
	if err := t.validator().Validate(string(f.Auth)); err != nil {
		return -1, fmt.Errorf("%w: %w", ErrBadToken, err)
	}
	fields, err := schema.Decode(frame.TypeHello, f.Payload)
	if err != nil {
		return -1, err
	}
	rank, err := tlv.GetU32(fields, schema.FieldRank)
	if err != nil {
		return -1, err
	}
	size, err := tlv.GetU32(fields, schema.FieldSize)
	if err != nil {
		return -1, err
	}
	if int(size) != t.size {
		return -1, fmt.Errorf("%w: peer rank %d reports size %d, want %d", ErrBadPeer, rank, size, t.size)
	}
	if accepting {
		if err := frame.WriteFrame(l.conn, hello, t.cfg.Limits); err != nil {
			return -1, err
		}
	}
	if tc, ok := l.conn.(*tls.Conn); ok {
		if certs := tc.ConnectionState().PeerCertificates; len(certs) > 0 {
			t.logger.Debug().Uint32("peer", rank).Str("identity", session.PeerIdentity(certs[0])).Msg("comm.TCP.handshake tls peer")
		}
	}
	return int(rank), nil
}

func (t *TCP) validator() auth.Validator {
	if t.cfg.Auth != nil {
		return t.cfg.Auth
	}
	return auth.GroupToken(t.cfg.Token)
}

func (t *TCP) attach(peer int, l *link) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[peer] != nil {
		return fmt.Errorf("%w: rank %d connected twice", ErrBadPeer, peer)
	}
	l.peer = peer
	t.links[peer] = l
	return nil
}

func (t *TCP) route(ctx context.Context, out [][]byte) ([][]byte, error) {
	if broken := t.cause(); broken != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, broken)
	}
	if err := ctx.Err(); err != nil {
		t.fail(err)
		return nil, err
	}

	seq := t.seq
	t.seq++
	in := make([][]byte, t.size)
	in[t.rank] = append([]byte(nil), out[t.rank]...)

	stop := context.AfterFunc(ctx, func() { t.fail(ctx.Err()) })
	defer stop()

	var g errgroup.Group
	for _, l := range t.links {
		if l == nil {
			continue
		}
		g.Go(func() error {
			if err := t.send(l, seq, out[l.peer]); err != nil {
				t.fail(err)
				return fmt.Errorf("send to rank %d: %w", l.peer, err)
			}
			return nil
		})
		g.Go(func() error {
			body, err := t.recv(l, seq)
			if err != nil {
				t.fail(err)
				return fmt.Errorf("recv from rank %d: %w", l.peer, err)
			}
			in[l.peer] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// A peer abort also times out the other links; report the abort.
		if cause := t.cause(); errors.Is(cause, ErrClosed) {
			return nil, fmt.Errorf("round %d: %w", seq, cause)
		}
		return nil, err
	}
	return in, nil
}

func (t *TCP) cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *TCP) send(l *link, seq uint64, body []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if broken := t.cause(); broken != nil {
		return fmt.Errorf("%w: %v", ErrClosed, broken)
	}
	if d := t.cfg.Session.WriteTimeout; d > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(d))
	}
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldRank, uint32(t.rank)),
		tlv.U64(schema.FieldSeq, seq),
		tlv.Bytes(schema.FieldBody, body),
	})
	return frame.WriteFrame(l.conn, frame.New(frame.TypeRound, seq, nil, payload), t.cfg.Limits)
}

func (t *TCP) recv(l *link, seq uint64) ([]byte, error) {
	if d := t.cfg.Session.ReadTimeout; d > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = l.conn.SetReadDeadline(time.Time{})
	}
	f, err := frame.ReadFrame(l.r, t.cfg.Limits)
	if err != nil {
		return nil, err
	}
	if f.Header.MessageType == frame.TypeAbort || f.Header.IsError() {
		return nil, t.peerAborted(l, f)
	}
	if f.Header.MessageType != frame.TypeRound {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMsg, f.Header.MessageType)
	}
	fields, err := schema.Decode(frame.TypeRound, f.Payload)
	if err != nil {
		return nil, err
	}
	got, err := tlv.GetU64(fields, schema.FieldSeq)
	if err != nil {
		return nil, err
	}
	if got != seq || f.Header.MessageID != seq {
		return nil, fmt.Errorf("%w: got %d want %d", ErrOutOfOrder, got, seq)
	}
	src, err := tlv.GetU32(fields, schema.FieldRank)
	if err != nil {
		return nil, err
	}
	if int(src) != l.peer {
		return nil, fmt.Errorf("%w: link for rank %d carried rank %d", ErrBadPeer, l.peer, src)
	}
	return tlv.GetBytes(fields, schema.FieldBody)
}

// peerAborted turns an abort frame from l's peer into an ErrClosed error.
func (t *TCP) peerAborted(l *link, f frame.Frame) error {
	fields, err := schema.Decode(frame.TypeAbort, f.Payload)
	if err != nil {
		return fmt.Errorf("%w: rank %d sent a malformed abort: %v", ErrClosed, l.peer, err)
	}
	reason, _ := tlv.GetBytes(fields, schema.FieldReason)
	return fmt.Errorf("%w: rank %d aborted: %s", ErrClosed, l.peer, reason)
}

// fail marks the mesh unusable, unblocks every pending read and write, and
// tells every peer so their pending rounds end too.
func (t *TCP) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken != nil {
		return
	}
	t.broken = err
	now := time.Now()
	for _, l := range t.links {
		if l == nil {
			continue
		}
		_ = l.conn.SetDeadline(now)
		t.aborts.Add(1)
		go t.abort(l, err)
	}
	t.logger.Warn().Err(err).Msg("comm.TCP mesh failed")
}

// abort writes an abort frame to l once any in-flight round frame has been
// cut off by the deadline set in fail.
func (t *TCP) abort(l *link, cause error) {
	defer t.aborts.Done()
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(abortWriteTimeout))
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldRank, uint32(t.rank)),
		tlv.Bytes(schema.FieldReason, []byte(cause.Error())),
	})
	if err := frame.WriteFrame(l.conn, frame.NewAbort(payload), t.cfg.Limits); err != nil {
		t.logger.Debug().Int("peer", l.peer).Err(err).Msg("comm.TCP.abort write failed")
	}
}

// Close waits for pending abort frames, then tears down every link.
func (t *TCP) Close() error {
	t.mu.Lock()
	if t.broken == nil {
		t.broken = ErrClosed
	}
	t.mu.Unlock()
	t.aborts.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for i, l := range t.links {
		if l == nil {
			continue
		}
		if err := l.conn.Close(); err != nil && first == nil {
			first = err
		}
		t.links[i] = nil
	}
	return first
}
