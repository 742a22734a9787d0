package rootctx

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSignal struct{}

func (testSignal) Signal()        {}
func (testSignal) String() string { return "test signal" }

func TestNewSignalHandler(t *testing.T) {
	r := require.New(t)
	sigCh := make(chan os.Signal, 1)
	sh := newSignalHandler(sigCh)

	r.NotNil(sh.gracefulCtx)
	r.NotNil(sh.forceKillCtx)
	r.Equal(0, sh.sigCount)
	r.NoError(sh.gracefulCtx.Err())
	r.NoError(sh.forceKillCtx.Err())
}

func TestSignalHandler_FirstSignalCancelsGracefulOnly(t *testing.T) {
	r := require.New(t)
	sigCh := make(chan os.Signal, 1)
	sh := newSignalHandler(sigCh)

	sigCh <- testSignal{}
	close(sigCh)
	<-sh.gracefulCtx.Done()

	r.Equal(context.Canceled, sh.gracefulCtx.Err())
	r.NoError(sh.forceKillCtx.Err())
}

func TestSignalHandler_ThirdSignalForcesKill(t *testing.T) {
	r := require.New(t)
	sigCh := make(chan os.Signal, 3)
	killed := false
	sh := newSignalHandler(sigCh)
	sh.onForceKill = func() { killed = true }

	sigCh <- testSignal{}
	sigCh <- testSignal{}
	sigCh <- testSignal{}
	close(sigCh)
	<-sh.forceKillCtx.Done()

	r.Equal(context.Canceled, sh.gracefulCtx.Err())
	r.Equal(context.Canceled, sh.forceKillCtx.Err())
	r.True(killed)
}
