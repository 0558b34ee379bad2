package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStdioServesUntilEOF(t *testing.T) {
	f := newFixture(t, Options{})
	f.install(t, manifestWithTools(t, "github", "get_repo", "list_issues"), true)
	srv := NewStdioServer(f.d, f.svc, zap.NewNop())

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		``,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
	}, "\n") + "\n")
	var out bytes.Buffer

	require.NoError(t, srv.Serve(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "one response for initialize, one parse error")

	byID := map[string]rpcReply{}
	for _, line := range lines {
		var reply rpcReply
		require.NoError(t, json.Unmarshal([]byte(line), &reply))
		byID[string(reply.ID)] = reply
	}
	assert.Nil(t, byID["1"].Error)
	require.NotNil(t, byID["null"].Error)
	assert.Equal(t, -32700, byID["null"].Error.Code)
	assert.Equal(t, 0, f.d.Sessions().Count(), "the session is closed on EOF")
}

func TestStdioSendsListChanged(t *testing.T) {
	f := newFixture(t, Options{})
	srv := NewStdioServer(f.d, f.svc, zap.NewNop())

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, inR, outW) }()

	replies := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			replies <- scanner.Text()
		}
		close(replies)
	}()

	next := func() map[string]any {
		t.Helper()
		select {
		case line := <-replies:
			var msg map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &msg))
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for output")
			return nil
		}
	}

	_, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`+"\n")
	require.NoError(t, err)
	assert.Equal(t, float64(1), next()["id"])

	f.install(t, manifestWithTools(t, "github", "get_repo"), true)
	notification := next()
	assert.Equal(t, "notifications/tools/list_changed", notification["method"])
	assert.Equal(t, "2.0", notification["jsonrpc"])
	assert.NotContains(t, notification, "id")

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on EOF")
	}
	_ = outW.Close()
}
