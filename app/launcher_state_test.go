package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type nopLoader struct{}

func (nopLoader) Load(ctx context.Context, t launch.Target) (ports.Process, error) {
	return nil, launch.NewLoadError(t.Path, launch.ErrNotFound)
}

func TestLaunch_RejectsIllegalTransition(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewLauncher(launch.Target{Path: "/srv"}, LauncherDeps{
		Loader: nopLoader{},
		Stdout: &stdout,
		Stderr: &stderr,
		Logger: zerolog.Nop(),
	})
	l.state = launch.StateSucceeded

	_, err := l.Launch(context.Background())

	assert.ErrorIs(t, err, launch.ErrAlreadyAttempted)
	assert.Equal(t, launch.StateSucceeded, l.State(), "terminal state is kept")
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String(), "no line for a rejected outcome")
}
