// Command lnk22-cli is the operator console for a running node: a
// line-oriented command REPL (send/status/routes/neighbors/help/sos/
// cancel) read from the controlling terminal, raw-moded with
// github.com/pkg/term exactly as serial_port_open raw-modes a device
// for clean byte-at-a-time I/O, with each keystroke echoed as it is typed.
package main

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/n7node/lnk22/core"
	"github.com/n7node/lnk22/hostio/radiohamlib"
)

func main() {
	var (
		address  = pflag.Uint32P("address", "a", 0, "This node's mesh address (required).")
		rigModel = pflag.IntP("rig-model", "m", 1, "hamlib rig model number.")
		ctlPort  = pflag.StringP("ctl-port", "r", "/dev/ttyUSB0", "CAT control serial port.")
		dataPort = pflag.StringP("data-port", "d", "/dev/ttyUSB1", "Radio data serial port.")
		baud     = pflag.IntP("baud", "b", 9600, "Serial speed for both ports.")
		help     = pflag.Bool("help", false, "Display help text.")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: lnk22-cli --address N [options]")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help || *address == 0 {
		pflag.Usage()
		return
	}

	radio, err := radiohamlib.Open(*rigModel, *ctlPort, *dataPort, *baud)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lnk22-cli:", err)
		os.Exit(1)
	}
	defer radio.Close()

	node := core.NewNode(core.Address(*address), radio, cryptoRNG{}, core.DefaultConfig(), core.NopStore{}, core.Millis(0))
	node.OnMessage = func(source core.Address, data []byte) {
		fmt.Printf("\n%d> %s\n", source, data)
	}

	go func() {
		if err := radio.Run(node.MAC); err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-cli: radio read loop ended:", err)
		}
	}()

	repl := NewREPL(node, core.Address(*address), time.Now(), os.Stdout)
	repl.Run(rawLineReader())
}

// rawLineReader puts the controlling terminal in raw mode, the same
// byte-at-a-time discipline serial_port_open uses, and assembles
// keystrokes into newline-delimited lines with basic backspace
// handling so bufio.Scanner in REPL.Run sees ordinary text lines.
func rawLineReader() io.Reader {
	tty, err := term.Open("/dev/tty", term.RawMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lnk22-cli: raw terminal unavailable, falling back to cooked stdin:", err)
		return os.Stdin
	}

	r, w := io.Pipe()
	go func() {
		defer tty.Close()
		defer w.Close()
		var line []byte
		buf := make([]byte, 1)
		for {
			if _, err := tty.Read(buf); err != nil {
				return
			}
			switch buf[0] {
			case '\r', '\n':
				fmt.Fprint(os.Stdout, "\r\n")
				line = append(line, '\n')
				if _, err := w.Write(line); err != nil {
					return
				}
				line = line[:0]
			case 0x7f, '\b':
				if len(line) > 0 {
					line = line[:len(line)-1]
					fmt.Fprint(os.Stdout, "\b \b")
				}
			case 0x03: // Ctrl-C
				return
			default:
				line = append(line, buf[0])
				fmt.Fprint(os.Stdout, string(buf[0]))
			}
		}
	}()
	return bufio.NewReader(r)
}

// cryptoRNG satisfies core.RandomSource over crypto/rand.
type cryptoRNG struct{}

func (cryptoRNG) RandomBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("lnk22-cli: crypto/rand failed: %v", err))
	}
}
