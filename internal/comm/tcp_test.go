package comm

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/treegrid/internal/auth"
	"github.com/danmuck/treegrid/internal/protocol/session"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/danmuck/treegrid/internal/testutil/tlstest"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func listenLocal(t *testing.T, n int) ([]net.Listener, []string) {
	t.Helper()
	lns := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}
	return lns, addrs
}

// runMesh dials a mesh with per-rank configs and runs fn on every rank.
func runMesh(t *testing.T, n int, configure func(*TCPConfig), fn func(context.Context, Communicator) error) error {
	t.Helper()
	lns, addrs := listenLocal(t, n)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < n; rank++ {
		g.Go(func() error {
			cfg := DefaultTCPConfig(rank, addrs)
			cfg.Token = "grid-a"
			cfg.Session.Backoff.Jitter = false
			if configure != nil {
				configure(&cfg)
			}
			mesh, err := DialMesh(gctx, cfg, lns[rank])
			if err != nil {
				return err
			}
			defer mesh.Close()
			return fn(gctx, mesh)
		})
	}
	return g.Wait()
}

func TestTCPMeshCollectives(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, runMesh(t, 3, nil, exerciseCollectives))
}

func TestTCPMeshRejectsWrongToken(t *testing.T) {
	testlog.Start(t)
	err := runMesh(t, 2, func(cfg *TCPConfig) {
		if cfg.Rank == 1 {
			cfg.Token = "grid-b"
		}
		cfg.Session.MaxConnectAttempts = 1
		cfg.Session.HandshakeTimeout = time.Second
	}, func(context.Context, Communicator) error { return nil })
	require.Error(t, err)
}

func TestTCPMeshUsesCustomValidator(t *testing.T) {
	testlog.Start(t)
	err := runMesh(t, 2, func(cfg *TCPConfig) {
		cfg.Token = fmt.Sprintf("grid-%d", cfg.Rank)
		cfg.Auth = auth.FuncValidator(func(token string) error {
			if !strings.HasPrefix(token, "grid-") {
				return auth.ErrUnauthorized
			}
			return nil
		})
	}, func(ctx context.Context, c Communicator) error {
		ok, err := AllReduceAnd(ctx, c, true)
		if err == nil && !ok {
			err = fmt.Errorf("reduce returned false")
		}
		return err
	})
	require.NoError(t, err)
}

func TestTCPMeshCancelAbortsPeerRound(t *testing.T) {
	testlog.Start(t)
	errs := make([]error, 2)
	peerDone := make(chan struct{})
	err := runMesh(t, 2, nil, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 1 {
			defer close(peerDone)
			_, errs[1] = AllReduceAnd(ctx, c, true)
			return nil
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, errs[0] = AllReduceAnd(cctx, c, true)
		// Keep the links open until the peer has read the abort.
		select {
		case <-peerDone:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, errs[0], context.Canceled)
	require.ErrorIs(t, errs[1], ErrClosed)
	require.NotErrorIs(t, errs[1], context.DeadlineExceeded)
	require.Contains(t, errs[1].Error(), "rank 0 aborted")
}

func TestTCPMeshOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "treegrid-test-ca")
	certs := make([][2]string, 2)
	for rank := range certs {
		cert, key := ca.IssuePeerCert(t, dir, "rank-"+string(rune('0'+rank)))
		certs[rank] = [2]string{cert, key}
	}
	err := runMesh(t, 2, func(cfg *TCPConfig) {
		cfg.Session.SecurityMode = session.SecurityModeProduction
		cfg.Session.TLS = session.TLSConfig{
			Enabled:  true,
			Mutual:   true,
			CertFile: certs[cfg.Rank][0],
			KeyFile:  certs[cfg.Rank][1],
			CAFile:   ca.CAFile(),
		}
	}, exerciseCollectives)
	require.NoError(t, err)
}

func TestDialMeshRejectsRankOutsidePeers(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, err = DialMesh(context.Background(), DefaultTCPConfig(2, []string{ln.Addr().String()}), ln)
	require.ErrorIs(t, err, ErrBadRank)
}
