package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not running", process.ErrorProcessNotRunning, ErrProcessGone},
		{"process done", os.ErrProcessDone, ErrProcessGone},
		{"permission", fmt.Errorf("signal: %w", os.ErrPermission), ErrPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(42, tt.err)
			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "pid 42")
		})
	}

	other := errors.New("boom")
	err := classify(7, other)
	require.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, ErrPermission)
	assert.NotErrorIs(t, err, ErrProcessGone)
}

func TestNameOfSelf(t *testing.T) {
	assert.NotEmpty(t, Name(context.Background(), os.Getpid()))
}
