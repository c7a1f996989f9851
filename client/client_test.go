package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A one-connection server driven by the test
func fakeServer(t *testing.T, handle func(rd *bufio.Reader, conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		handle(bufio.NewReader(conn), conn)
	}()
	return ln.Addr().String()
}

func readFrame(rd *bufio.Reader) Frame {
	var f Frame
	line, err := rd.ReadBytes('\n')
	if err != nil {
		return f
	}
	json.Unmarshal(line, &f)
	return f
}

func TestConnect_RegistersAndRelays(t *testing.T) {
	got := make(chan []Frame, 1)
	addr := fakeServer(t, func(rd *bufio.Reader, conn net.Conn) {
		var frames []Frame
		frames = append(frames, readFrame(rd))
		io.WriteString(conn, `{"welcome":{"time":"now","version":"0.1.0","server":"abc","session":3,"player":"alice"}}`+"\n")

		frames = append(frames, readFrame(rd), readFrame(rd), readFrame(rd))
		io.WriteString(conn, `{"message":"server shutting down"}`+"\n")
		got <- frames
	})

	in := strings.NewReader("/respawn\n\n{\"x\":1}\njump\n")
	var out bytes.Buffer

	err := connect(context.Background(), connectOptions{addr: addr, player: "alice", timeout: time.Second}, in, &out)
	require.NoError(t, err)

	frames := <-got
	require.Len(t, frames, 4)
	require.NotNil(t, frames[0].Command)
	assert.Equal(t, "alice", frames[0].Command.Register)
	require.NotNil(t, frames[1].Command)
	assert.True(t, frames[1].Command.Respawn)
	assert.JSONEq(t, `{"x":1}`, string(frames[2].Input))
	assert.JSONEq(t, `"jump"`, string(frames[3].Input))

	assert.Contains(t, out.String(), "welcome alice, session 3 on server abc (v0.1.0)")
	assert.Contains(t, out.String(), "server shutting down")
}

func TestConnect_Refused(t *testing.T) {
	addr := fakeServer(t, func(rd *bufio.Reader, conn net.Conn) {
		readFrame(rd)
		io.WriteString(conn, `{"error":"server full"}`+"\n")
	})

	var out bytes.Buffer
	err := connect(context.Background(), connectOptions{addr: addr, player: "bob", timeout: time.Second}, strings.NewReader(""), &out)

	var refused *RefusedError
	require.True(t, errors.As(err, &refused))
	assert.Equal(t, "server full", refused.Reason)
	assert.Contains(t, out.String(), "error: server full")
}

func TestConnect_HangupBeforeWelcome(t *testing.T) {
	addr := fakeServer(t, func(rd *bufio.Reader, conn net.Conn) {
		readFrame(rd)
	})

	err := connect(context.Background(), connectOptions{addr: addr, player: "bob", timeout: time.Second}, strings.NewReader(""), io.Discard)
	assert.ErrorIs(t, err, errNoWelcome)
}

func TestConnect_CancelAfterWelcome(t *testing.T) {
	release := make(chan struct{})
	addr := fakeServer(t, func(rd *bufio.Reader, conn net.Conn) {
		readFrame(rd)
		io.WriteString(conn, `{"welcome":{"player":"carol","session":1}}`+"\n")
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := connect(ctx, connectOptions{addr: addr, player: "carol", timeout: time.Second}, strings.NewReader(""), io.Discard)
	assert.NoError(t, err)
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = connect(context.Background(), connectOptions{addr: addr, player: "dave", timeout: time.Second}, strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestInputFrame(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{line: "/respawn", want: `{"command":{"respawn":true}}`},
		{line: `{"move":[1,0]}`, want: `{"input":{"move":[1,0]}}`},
		{line: "42", want: `{"input":42}`},
		{line: "fire now", want: `{"input":"fire now"}`},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := inputFrame(tt.line)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestPrintFrame(t *testing.T) {
	var out bytes.Buffer

	n := printFrame(&out, []byte(`{"message":"hi"}`))
	require.NotNil(t, n)
	assert.Equal(t, "hi", n.Message)

	assert.Nil(t, printFrame(&out, []byte(`not json`)))
	printFrame(&out, []byte(`{"tick":1}`))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "hi")
	assert.Contains(t, lines[1], "not json")
	assert.Contains(t, lines[2], `{"tick":1}`)
}

func TestConnectCmd_RequiresPlayer(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"connect", "--addr", "127.0.0.1:1"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "player")
}

func TestConnectCmd_Runs(t *testing.T) {
	addr := fakeServer(t, func(rd *bufio.Reader, conn net.Conn) {
		readFrame(rd)
		io.WriteString(conn, `{"welcome":{"player":"erin","session":9}}`+"\n")
	})

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"connect", "--addr", addr, "--player", "erin"})
	root.SetIn(strings.NewReader(""))
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "welcome erin, session 9")
}
