package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/fatih/color"
)

type connectOptions struct {
	addr    string
	player  string
	timeout time.Duration
}

// Frames sent to the server
type Command struct {
	Register string `json:"register,omitempty"`
	Respawn  bool   `json:"respawn,omitempty"`
}

type Frame struct {
	Command *Command        `json:"command,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

// Settings the server sends as the first frame after registering
type Welcome struct {
	Time    string `json:"time"`
	Version string `json:"version"`
	Server  string `json:"server"`
	Session uint64 `json:"session"`
	Player  string `json:"player"`
}

// Every frame the server sends decodes into a Notice
type Notice struct {
	Welcome *Welcome `json:"welcome,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

var (
	welcomeColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	messageColor = color.New(color.FgYellow)
	rawColor     = color.New(color.FgCyan)
)

// The server refused the session, carries the reason it sent
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string {
	return "server refused: " + e.Reason
}

var errNoWelcome = errors.New("server closed the connection before welcoming")

// Translate a line typed by the user into a frame
// Valid JSON is sent as is, anything else as a JSON string
func inputFrame(line string) ([]byte, error) {
	if line == "/respawn" {
		return json.Marshal(Frame{Command: &Command{Respawn: true}})
	}

	input := json.RawMessage(line)
	if !json.Valid(input) {
		quoted, err := json.Marshal(line)
		if err != nil {
			return nil, err
		}
		input = quoted
	}
	return json.Marshal(Frame{Input: input})
}

// Print a server frame to out and return it decoded
// Frames that are not notices are printed raw
func printFrame(out io.Writer, frame []byte) *Notice {
	var n Notice
	if err := json.Unmarshal(frame, &n); err != nil {
		rawColor.Fprintf(out, "%s\n", frame)
		return nil
	}

	switch {
	case n.Error != "":
		errorColor.Fprintf(out, "error: %s\n", n.Error)
	case n.Welcome != nil:
		welcomeColor.Fprintf(out, "welcome %s, session %d on server %s (v%s)\n",
			n.Welcome.Player, n.Welcome.Session, n.Welcome.Server, n.Welcome.Version)
	case n.Message != "":
		messageColor.Fprintf(out, "%s\n", n.Message)
	default:
		rawColor.Fprintf(out, "%s\n", frame)
	}
	return &n
}

// Register opts.player on the server at opts.addr and relay frames until
// ctx is done or the server hangs up
func connect(ctx context.Context, opts connectOptions, in io.Reader, out io.Writer) error {
	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}

	dialer := net.Dialer{Timeout: opts.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.addr, err)
	}
	defer conn.Close()

	log.Printf("client: connected to %s", conn.RemoteAddr())

	quit := make(chan struct{})
	defer close(quit)

	// Producer that pumps the server's frames into the rx channel
	rxchan := make(chan []byte)
	go connrx(bufio.NewReader(conn), rxchan, quit)

	// Consumer that writes frames bound for the server, exits when txchan closes
	txchan := make(chan []byte, 16)
	writeerr := make(chan bool, 1)
	go conntx(txchan, conn, writeerr)
	defer close(txchan)

	register, err := json.Marshal(Frame{Command: &Command{Register: opts.player}})
	if err != nil {
		return err
	}
	txchan <- register

	// Application layer handshake, the first frame back is a welcome or the reason we were refused
	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()
	select {
	case frame, ok := <-rxchan:
		if !ok {
			return errNoWelcome
		}
		n := printFrame(out, frame)
		if n == nil || n.Welcome == nil {
			if n != nil && n.Error != "" {
				return &RefusedError{Reason: n.Error}
			}
			return fmt.Errorf("unexpected first frame: %s", frame)
		}
	case <-timer.C:
		return fmt.Errorf("no welcome from %s within %s", opts.addr, opts.timeout)
	case <-writeerr:
		return fmt.Errorf("sending register to %s failed", opts.addr)
	case <-ctx.Done():
		return nil
	}

	// Stdin ends are not a reason to leave, the player keeps listening
	linechan := make(chan string)
	go linerx(in, linechan, quit)

	// Block relaying frames until a signal, a hangup, or an error
	for {
		select {
		case <-ctx.Done():
			log.Print("client(term): interrupted")
			return nil

		case <-writeerr:
			return fmt.Errorf("writing to %s failed", opts.addr)

		case frame, ok := <-rxchan:
			if !ok {
				log.Print("client(term): server closed the connection")
				return nil
			}
			if n := printFrame(out, frame); n != nil && n.Error != "" {
				return &RefusedError{Reason: n.Error}
			}

		case line, ok := <-linechan:
			if !ok {
				linechan = nil
				continue
			}
			frame, err := inputFrame(line)
			if err != nil {
				log.Printf("client: dropping input %q: %s", line, err)
				continue
			}
			txchan <- frame
		}
	}
}
