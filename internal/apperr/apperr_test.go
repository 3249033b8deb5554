package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(NotFound, "host %q not found", "hub")
	require.EqualError(t, err, `host "hub" not found`)
	require.True(t, IsKind(err, NotFound))
	require.Equal(t, NotFound, KindOf(err))
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(TransferFailed, nil, "writing %s", "/etc/x"))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := Wrap(ConnectionLost, cause, "exec on %q", "hub")
	require.EqualError(t, err, `exec on "hub": broken pipe`)
	require.ErrorIs(t, err, cause)
	require.Equal(t, ConnectionLost, KindOf(err))
}

func TestIsKindWalksTheChain(t *testing.T) {
	inner := New(AccessDenied, "permission denied")
	outer := Wrap(TransferFailed, inner, "reading %s", "/etc/x")
	wrapped := fmt.Errorf("pull failed: %w", outer)

	require.True(t, IsKind(wrapped, TransferFailed))
	require.True(t, IsKind(wrapped, AccessDenied))
	require.False(t, IsKind(wrapped, ConnectionLost))
	// KindOf reports the outermost classification.
	require.Equal(t, TransferFailed, KindOf(wrapped))
}

func TestKindOfUntypedError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("plain")))
	require.False(t, IsKind(errors.New("plain"), Conflict))
	require.False(t, IsKind(nil, Conflict))
}

func TestRetryableOnlyForConnectionLoss(t *testing.T) {
	require.True(t, Retryable(New(ConnectionLost, "eof")))
	require.True(t, Retryable(Wrap(TransferFailed, New(ConnectionLost, "eof"), "mid-write")))
	require.False(t, Retryable(New(TransferFailed, "short write")))
	require.False(t, Retryable(New(AuthenticationFailed, "bad password")))
	require.False(t, Retryable(nil))
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "connection lost", ConnectionLost.String())
	require.Equal(t, "partial rollback", PartialRollback.String())
	require.Equal(t, "internal error", Internal.String())
}
