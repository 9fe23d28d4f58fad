package livepty

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCapturesOutput(t *testing.T) {
	s, err := Start("/bin/echo", []string{"hello"}, os.Environ(), "", Size{Rows: 24, Cols: 80}, 16)
	require.NoError(t, err)
	defer s.Close(context.Background())

	var got bytes.Buffer
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				break loop
			}
			got.Write(c.Data)
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}
	assert.Contains(t, got.String(), "hello")

	<-s.Done()
	code, _, exited := s.ExitStatus()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
}

func TestResizeDoesNotError(t *testing.T) {
	s, err := Start("/bin/cat", nil, os.Environ(), "", Size{Rows: 24, Cols: 80}, 16)
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Resize(Size{Rows: 30, Cols: 100}))
	_, _ = s.Write([]byte("x\n"))
}

func TestDefaultSizeFallsBackWhenStdinIsNotATerminal(t *testing.T) {
	// Under `go test`, stdin is normally a pipe, not a tty.
	size := DefaultSize()
	assert.Equal(t, uint16(defaultRows), size.Rows)
	assert.Equal(t, uint16(defaultCols), size.Cols)
}
