package main

import (
	"bufio"
	"bytes"
	"log"
	"net"
	"time"
)

// Pumps newline delimited frames read from conn into rxchan
// Closes rxchan when the read fails, the idle timeout passes, or a frame exceeds maxframe
func connrx(conn net.Conn, rxchan chan<- []byte, quit <-chan struct{}, idle time.Duration, maxframe int) {
	defer close(rxchan)

	// Room for the line ending, the frame itself is checked after trimming
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(512, maxframe+2)), maxframe+2)

	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}

		// This ends when the connection is closed locally or remotely
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Printf("connrx(term): %s error while reading: %s", conn.RemoteAddr(), err)
			}
			return
		}

		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if len(line) > maxframe {
			log.Printf("connrx(term): %s %d byte frame over the %d byte limit", conn.RemoteAddr(), len(line), maxframe)
			return
		}

		// The scanner reuses its buffer
		frame := make([]byte, len(line))
		copy(frame, line)

		select {
		case rxchan <- frame:
		case <-quit:
			return
		}
	}
}

// Pumps frames from txchan into conn, one per line, until txchan is closed
// Every write gets a fresh deadline, frames larger than the buffer skip it and go straight to the socket
func conntx(txchan <-chan []byte, conn net.Conn, writeerr chan<- bool, timeout time.Duration) {
	wr := bufio.NewWriter(conn)

	// A simple one-shot flag is used to skip the write after failure
	failed := false
	fail := func(err error) {
		log.Printf("conntx(term): %s error while writing: %s", conn.RemoteAddr(), err)
		// If the write errors, signal the writeerr channel
		select {
		case writeerr <- true:
		default:
		}
		failed = true
	}

	deadline := func() {
		if timeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(timeout))
		}
	}

	// Pump the transmit channel until it is closed
	for frame := range txchan {
		if failed {
			continue
		}

		deadline()
		if _, err := wr.Write(frame); err != nil {
			fail(err)
			continue
		}
		if err := wr.WriteByte('\n'); err != nil {
			fail(err)
			continue
		}

		// Batch whatever is already queued into one write
		if len(txchan) > 0 {
			continue
		}

		if err := wr.Flush(); err != nil {
			fail(err)
		}
	}

	// Anything left over from a batch when the channel closed
	if !failed && wr.Buffered() > 0 {
		deadline()
		wr.Flush()
	}
}
