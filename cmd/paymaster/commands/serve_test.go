package commands

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backgroundTask blocks until its context ends and records that it returned.
func backgroundTask(done *atomic.Bool) func(context.Context) {
	return func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}
}

func waitServer(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestRunServerShutsDownAndJoinsBackground(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	var done atomic.Bool
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, srv, backgroundTask(&done)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	require.NoError(t, waitServer(t, errCh))
	assert.True(t, done.Load(), "background task returned before runServer")
}

func TestRunServerListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}

	var done atomic.Bool
	errCh := make(chan error, 1)
	go func() { errCh <- runServer(t.Context(), srv, backgroundTask(&done)) }()

	assert.ErrorContains(t, waitServer(t, errCh), "server failed")
	assert.True(t, done.Load(), "background task stopped with the server")
}
