package main

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"net"
	"strings"
)

// Pumps newline delimited frames from the server into rxchan until the read fails
func connrx(rdr *bufio.Reader, rxchan chan<- []byte, quit <-chan struct{}) {
	defer close(rxchan)

	for {
		// This ends when the connection is closed locally or remotely
		line, err := rdr.ReadBytes('\n')
		if line = bytes.TrimRight(line, "\r\n"); len(line) > 0 {
			select {
			case rxchan <- line:
			case <-quit:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("connrx(term): error while reading: %s", err)
			}
			return
		}
	}
}

func conntx(txchan <-chan []byte, conn net.Conn, writeerr chan<- bool) {
	wr := bufio.NewWriter(conn)

	// A simple one-shot flag is used to skip the write after failure
	failed := false

	// Pump the transmit channel until it is closed
	for frame := range txchan {
		if failed {
			continue
		}

		wr.Write(frame)
		wr.WriteByte('\n')
		if err := wr.Flush(); err != nil {
			log.Printf("conntx(term): error while writing: %s", err)
			select {
			case writeerr <- true:
			default:
			}
			failed = true
		}
	}
}

// Pumps non-empty lines typed by the user into linechan
// Closes linechan at the end of input
func linerx(in io.Reader, linechan chan<- string, quit <-chan struct{}) {
	defer close(linechan)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case linechan <- line:
		case <-quit:
			return
		}
	}
}
