package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/statusrelay/internal/queue"
)

// freePort reserves an ephemeral port and releases it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// squat holds a port for the duration of the test.
func squat(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestListener(q *queue.EventQueue, fallbacks ...int) *Listener {
	if fallbacks == nil {
		fallbacks = []int{}
	}
	return NewListener(ListenerConfig{
		Host:          "127.0.0.1",
		FallbackPorts: fallbacks,
		StopTimeout:   500 * time.Millisecond,
		Handler:       HandlerConfig{Queue: q},
	})
}

func getHealth(t *testing.T, port int) Health {
	t.Helper()
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	return h
}

func TestListener_StartServesAndStops(t *testing.T) {
	q := queue.New(10)
	l := newTestListener(q)
	require.Equal(t, StateStopped, l.State())

	port, err := l.Start(t.Context(), "", 0)
	require.NoError(t, err)
	require.NotZero(t, port)
	require.True(t, l.Running())
	require.Equal(t, port, l.Port())

	addr, err := l.Addr()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), addr)

	resp, err := http.Post("http://"+addr+"/status", "application/json", strings.NewReader(`{"content":"hello"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, q.Len())

	h := getHealth(t, port)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.ServerRunning)
	assert.Equal(t, 1, h.QueueSize)
	assert.Equal(t, "running", h.State)
	assert.Equal(t, port, h.Port)

	require.NoError(t, l.Stop(t.Context()))
	require.Equal(t, StateStopped, l.State())
	require.Zero(t, l.Port())
	_, err = l.Addr()
	require.ErrorIs(t, err, ErrNotRunning)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err, "port is released after stop")
}

func TestListener_FallsBackWhenPortTaken(t *testing.T) {
	taken := squat(t)
	fallback := freePort(t)
	l := newTestListener(queue.New(10), fallback)
	defer l.Stop(context.Background())

	port, err := l.Start(t.Context(), "", taken)
	require.NoError(t, err)
	assert.Equal(t, fallback, port)
	assert.Equal(t, fallback, getHealth(t, port).Port)
}

func TestListener_NoPortAvailable(t *testing.T) {
	a, b := squat(t), squat(t)
	l := newTestListener(queue.New(10), b)

	_, err := l.Start(t.Context(), "", a)
	require.ErrorIs(t, err, ErrPortUnavailable)
	assert.Contains(t, err.Error(), strconv.Itoa(a))
	assert.Contains(t, err.Error(), strconv.Itoa(b))
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, l.Health().ServerRunning)
}

func TestListener_StopIsIdempotent(t *testing.T) {
	l := newTestListener(queue.New(10))
	require.NoError(t, l.Stop(t.Context()), "stop before start")

	_, err := l.Start(t.Context(), "", 0)
	require.NoError(t, err)
	require.NoError(t, l.Stop(t.Context()))
	require.NoError(t, l.Stop(t.Context()))
	require.Equal(t, StateStopped, l.State())
}

func TestListener_StartWhileRunningRebinds(t *testing.T) {
	l := newTestListener(queue.New(10))
	defer l.Stop(context.Background())

	first, err := l.Start(t.Context(), "", 0)
	require.NoError(t, err)
	second, err := l.Start(t.Context(), "", 0)
	require.NoError(t, err)
	require.True(t, l.Running())

	if first != second {
		_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(first)), 200*time.Millisecond)
		require.Error(t, err, "the first server was shut down")
	}
	getHealth(t, second)
}

func TestListener_RestartAndReconfigure(t *testing.T) {
	l := newTestListener(queue.New(10))
	defer l.Stop(context.Background())

	want := freePort(t)
	l.Reconfigure("127.0.0.1", want)

	port, err := l.Restart(t.Context())
	require.NoError(t, err)
	require.Equal(t, want, port)

	port, err = l.Restart(t.Context())
	require.NoError(t, err)
	require.Equal(t, want, port, "restart rebinds the configured port")
}

func TestListener_ConcurrentLifecycle(t *testing.T) {
	l := newTestListener(queue.New(10))
	defer l.Stop(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = l.Start(context.Background(), "", 0)
			} else {
				_ = l.Stop(context.Background())
			}
			_ = l.Health()
		}(i)
	}
	wg.Wait()

	state := l.State()
	require.Contains(t, []State{StateStopped, StateRunning}, state)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCandidatePorts(t *testing.T) {
	assert.Equal(t, []int{0}, candidatePorts(0, []int{1, 2}))
	assert.Equal(t, []int{5679, 5680, 5681}, candidatePorts(5679, []int{5680, 5679, 5681, 0, 5680}))
	assert.Equal(t, []int{9000}, candidatePorts(9000, nil))
}
