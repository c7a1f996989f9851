package main

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnrx_SplitsFrames(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	rxchan := make(chan []byte)
	quit := make(chan struct{})
	go connrx(server, rxchan, quit, 0, 64)

	go io.WriteString(client, "first\r\n\nsecond\n")

	assert.Equal(t, "first", string(<-rxchan))
	assert.Equal(t, "second", string(<-rxchan))

	client.Close()
	_, ok := <-rxchan
	assert.False(t, ok)
}

func TestConnrx_FrameTooLong(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	rxchan := make(chan []byte)
	go connrx(server, rxchan, make(chan struct{}), 0, 16)

	go io.WriteString(client, strings.Repeat("x", 64)+"\n")

	_, ok := <-rxchan
	assert.False(t, ok)
}

func TestConnrx_FrameAtLimit(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	rxchan := make(chan []byte)
	go connrx(server, rxchan, make(chan struct{}), 0, 16)

	go io.WriteString(client, strings.Repeat("a", 16)+"\n"+strings.Repeat("b", 16)+"\r\n"+strings.Repeat("c", 17)+"\n")

	assert.Equal(t, strings.Repeat("a", 16), string(<-rxchan))
	assert.Equal(t, strings.Repeat("b", 16), string(<-rxchan))

	// One byte over ends the pump
	_, ok := <-rxchan
	assert.False(t, ok)
}

func TestConnrx_IdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	rxchan := make(chan []byte)
	go connrx(server, rxchan, make(chan struct{}), 20*time.Millisecond, 64)

	select {
	case _, ok := <-rxchan:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("idle connection was not dropped")
	}
}

func TestConnrx_QuitUnblocks(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	rxchan := make(chan []byte)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		connrx(server, rxchan, quit, 0, 64)
	}()

	go io.WriteString(client, "nobody reads this\n")
	time.Sleep(10 * time.Millisecond)
	close(quit)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rx pump did not quit")
	}
}

func TestConntx_WritesLines(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	txchan := make(chan []byte, 4)
	writeerr := make(chan bool, 1)
	txchan <- []byte(`{"a":1}`)
	txchan <- []byte(`{"b":2}`)
	close(txchan)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conntx(txchan, server, writeerr, time.Second)
	}()

	rd := bufio.NewReader(client)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n", line)
	line, err = rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"b\":2}\n", line)

	<-done
	assert.Empty(t, writeerr)
}

func TestConntx_SignalsWriteError(t *testing.T) {
	server, client := net.Pipe()
	client.Close()

	txchan := make(chan []byte, 1)
	writeerr := make(chan bool, 1)
	go conntx(txchan, server, writeerr, time.Second)

	txchan <- []byte("lost")
	select {
	case <-writeerr:
	case <-time.After(time.Second):
		t.Fatal("write error was not signalled")
	}
	close(txchan)
}

func TestConntx_LargeFrameAfterIdle(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	// The peer keeps reading the whole time
	lines := make(chan string)
	go func() {
		rd := bufio.NewReader(client)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	txchan := make(chan []byte)
	writeerr := make(chan bool, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conntx(txchan, server, writeerr, 50*time.Millisecond)
	}()

	txchan <- []byte("small")
	assert.Equal(t, "small\n", <-lines)

	// Idle past the write timeout, then send more than the write buffer holds
	time.Sleep(200 * time.Millisecond)
	big := strings.Repeat("x", 5000)
	txchan <- []byte(big)
	assert.Equal(t, big+"\n", <-lines)

	close(txchan)
	<-done
	assert.Empty(t, writeerr)
}
