package conn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
	"fleetcfg/internal/vault"
)

type stubVault map[string]*vault.Secret

func (v stubVault) GetSecret(ref string) (*vault.Secret, error) {
	s, ok := v[ref]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no secret %q", ref)
	}
	return s, nil
}

func unreachableHost(id string) *models.Host {
	return &models.Host{
		ID:         id,
		Address:    "127.0.0.1",
		Port:       1, // nothing listens here
		User:       "ha",
		AuthMethod: models.AuthPassword,
		SecretRef:  id,
		Files:      []string{"/config/configuration.yaml"},
	}
}

func testManager(hosts map[string]*models.Host) *Manager {
	resolver := hostResolverFunc(func(id string) (*models.Host, error) {
		h, ok := hosts[id]
		if !ok {
			return nil, apperr.New(apperr.NotFound, "host %q not found", id)
		}
		return h, nil
	})
	v := stubVault{}
	for id := range hosts {
		v[id] = &vault.Secret{Method: models.AuthPassword, Password: "pw"}
	}
	return NewManager(resolver, v, Options{
		DialTimeout:   200 * time.Millisecond,
		AcceptUnknown: true,
	})
}

func TestAcquireUnreachableHostFails(t *testing.T) {
	m := testManager(map[string]*models.Host{"ha-1": unreachableHost("ha-1")})

	_, err := m.Acquire(context.Background(), "ha-1")
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.ConnectionLost))
}

func TestAcquireUnknownHost(t *testing.T) {
	m := testManager(nil)
	_, err := m.Acquire(context.Background(), "nope")
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestAcquireFailureFreesSlot(t *testing.T) {
	m := testManager(map[string]*models.Host{"ha-1": unreachableHost("ha-1")})

	_, err := m.Acquire(context.Background(), "ha-1")
	require.Error(t, err)

	// A failed acquire must not leave the slot held.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = m.Acquire(ctx, "ha-1")
	require.Error(t, err)
	require.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInteractiveDialDoesNotTouchPoolSlot(t *testing.T) {
	m := testManager(map[string]*models.Host{"ha-1": unreachableHost("ha-1")})

	// Occupy the mutating slot directly, as an in-flight deployment
	// would.
	sl := m.slotFor("ha-1")
	sl.sem <- struct{}{}
	defer func() { <-sl.sem }()

	// Interactive acquisition fails on the unreachable host without
	// waiting on, or releasing, the mutating slot.
	done := make(chan error, 1)
	go func() {
		_, err := m.AcquireInteractive(context.Background(), "ha-1")
		done <- err
	}()
	select {
	case err := <-done:
		require.True(t, apperr.IsKind(err, apperr.ConnectionLost))
	case <-time.After(2 * time.Second):
		t.Fatal("interactive acquire blocked on the mutating slot")
	}
	require.Len(t, sl.sem, 1, "mutating slot must still be held")
}

func TestAcquireContextCanceledWhileWaiting(t *testing.T) {
	m := testManager(map[string]*models.Host{"ha-1": unreachableHost("ha-1")})
	sl := m.slotFor("ha-1")
	sl.sem <- struct{}{}
	defer func() { <-sl.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx, "ha-1")
	require.True(t, apperr.IsKind(err, apperr.ConnectionLost))
}

func TestAcquireContextExpiredDuringDial(t *testing.T) {
	// A listener that accepts and then stays silent keeps the SSH
	// handshake in flight past the context deadline.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	host := unreachableHost("ha-1")
	host.Port = ln.Addr().(*net.TCPAddr).Port
	m := testManager(map[string]*models.Host{"ha-1": host})
	m.opts.DialTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.Acquire(ctx, "ha-1")
	require.True(t, apperr.IsKind(err, apperr.ConnectionLost))
	require.Less(t, time.Since(start), time.Second,
		"expired context must not wait out the full dial timeout")

	// The abandoned attempt is drained in the background; the slot is
	// free for the next acquire immediately.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	_, err = m.Acquire(ctx2, "ha-1")
	require.Error(t, err)
}

func TestStrictHostKeyWithoutKnownHosts(t *testing.T) {
	resolver := hostResolverFunc(func(id string) (*models.Host, error) {
		return unreachableHost(id), nil
	})
	m := NewManager(resolver, stubVault{"ha-1": {Method: models.AuthPassword, Password: "pw"}}, Options{
		DialTimeout:    100 * time.Millisecond,
		KnownHostsPath: t.TempDir() + "/known_hosts",
	})

	_, err := m.Acquire(context.Background(), "ha-1")
	require.True(t, apperr.IsKind(err, apperr.AuthenticationFailed))
}

func TestRetryIdempotentStopsOnPermanent(t *testing.T) {
	calls := 0
	err := RetryIdempotent(context.Background(), func() error {
		calls++
		return apperr.New(apperr.AccessDenied, "nope")
	})
	require.True(t, apperr.IsKind(err, apperr.AccessDenied))
	require.Equal(t, 1, calls)
}

func TestRetryIdempotentBoundedAttempts(t *testing.T) {
	calls := 0
	err := RetryIdempotent(context.Background(), func() error {
		calls++
		return apperr.New(apperr.ConnectionLost, "flaky")
	})
	require.True(t, apperr.IsKind(err, apperr.ConnectionLost))
	require.Equal(t, idempotentAttempts, calls)
}

func TestRetryIdempotentEventualSuccess(t *testing.T) {
	calls := 0
	err := RetryIdempotent(context.Background(), func() error {
		calls++
		if calls < 2 {
			return apperr.New(apperr.ConnectionLost, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestBuildAuthNormalizesBeforeParse(t *testing.T) {
	host := unreachableHost("ha-1")
	host.AuthMethod = models.AuthKey
	_, err := buildAuth(host, &vault.Secret{
		Method:      models.AuthKey,
		KeyMaterial: []byte("garbage material"),
	})
	require.True(t, apperr.IsKind(err, apperr.AuthenticationFailed))
}
