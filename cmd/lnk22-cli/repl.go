package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/n7node/lnk22/core"
)

// REPL drives the send/status/routes/neighbors/help command surface
// against a running node. It has no opinion about how its input and
// output bytes are carried — production wires it to a raw-moded
// controlling terminal, the test suite wires it to a real pty.
type REPL struct {
	node    *core.Node
	address core.Address
	start   time.Time
	out     io.Writer
}

// NewREPL builds a REPL for node, identified on the mesh as address,
// measuring Millis timestamps relative to start.
func NewREPL(node *core.Node, address core.Address, start time.Time, out io.Writer) *REPL {
	return &REPL{node: node, address: address, start: start, out: out}
}

func (r *REPL) now() core.Millis {
	return core.Millis(uint32(time.Since(r.start).Milliseconds()))
}

// Run reads whitespace-delimited commands, one per line, from in
// until EOF or a "quit"/"exit" line.
func (r *REPL) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(r.out, "lnk22-cli ready; type 'help' for commands")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if r.dispatch(line) {
			return
		}
	}
}

func (r *REPL) dispatch(line string) (quit bool) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "send":
		r.cmdSend(args)
	case "status":
		r.cmdStatus()
	case "routes":
		r.cmdRoutes()
	case "neighbors":
		r.cmdNeighbors()
	case "help":
		r.cmdHelp()
	case "sos":
		r.node.Emergency.ActivateSOS(core.EmergencyGeneral, strings.Join(args, " "), core.SFMax, 20, r.now())
		fmt.Fprintln(r.out, "SOS activated")
	case "cancel":
		r.node.Emergency.CancelSOS()
		fmt.Fprintln(r.out, "SOS cancelled")
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(r.out, "unknown command %q; try 'help'\n", cmd)
	}
	return false
}

func (r *REPL) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "usage: send <address> <text...>")
		return
	}
	dest, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(r.out, "send: bad address %q: %v\n", args[0], err)
		return
	}
	text := strings.Join(args[1:], " ")
	r.node.SendMessage(core.Address(dest), []byte(text), true, r.now())
	fmt.Fprintf(r.out, "sent %d bytes to %d\n", len(text), dest)
}

func (r *REPL) cmdStatus() {
	fmt.Fprintf(r.out, "address=%d neighbors=%d routes=%d active_sos=%d\n",
		r.address, len(r.node.Neighbors.All()), len(r.node.Routing.All()), r.node.Emergency.ActiveSOSCount())
}

func (r *REPL) cmdRoutes() {
	routes := r.node.Routing.All()
	if len(routes) == 0 {
		fmt.Fprintln(r.out, "no routes")
		return
	}
	for _, rt := range routes {
		fmt.Fprintf(r.out, "%d via %d hops=%d quality=%.2f\n", rt.Destination, rt.NextHop, rt.HopCount, rt.Quality)
	}
}

func (r *REPL) cmdNeighbors() {
	neighbors := r.node.Neighbors.All()
	if len(neighbors) == 0 {
		fmt.Fprintln(r.out, "no neighbors")
		return
	}
	for _, nb := range neighbors {
		fmt.Fprintf(r.out, "%d rssi=%d snr=%d quality=%.2f\n", nb.Address, nb.LastRSSI(), nb.LastSNR(), nb.LinkQuality())
	}
}

func (r *REPL) cmdHelp() {
	fmt.Fprintln(r.out, "commands:")
	fmt.Fprintln(r.out, "  send <address> <text...>   send a message, requesting an ack")
	fmt.Fprintln(r.out, "  status                     this node's address and subsystem counts")
	fmt.Fprintln(r.out, "  routes                     the AODV route table")
	fmt.Fprintln(r.out, "  neighbors                  directly-heard peers and their link quality")
	fmt.Fprintln(r.out, "  sos [message]              activate the emergency broadcast")
	fmt.Fprintln(r.out, "  cancel                     cancel an active emergency broadcast")
	fmt.Fprintln(r.out, "  help                       this text")
	fmt.Fprintln(r.out, "  quit | exit                end the session")
}
