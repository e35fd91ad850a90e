package main

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"github.com/n7node/lnk22/core"
)

// driveREPL runs repl against a real pty instead of mocking os.Stdin,
// the way kisspt_open_pt's pty gives Dire Wolf's KISS clients a real
// terminal device to dial into. cmds are written to the master side
// as if a human typed them; the slave side feeds the REPL.
func driveREPL(t *testing.T, repl *REPL, cmds []string) string {
	t.Helper()
	ptmx, pts, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer pts.Close()

	var out strings.Builder
	repl.out = &out

	done := make(chan struct{})
	go func() {
		repl.Run(pts)
		close(done)
	}()

	w := bufio.NewWriter(ptmx)
	for _, c := range cmds {
		_, err := w.WriteString(c + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("REPL did not exit after 'quit'")
	}
	return out.String()
}

func newTestNode() *core.Node {
	return core.NewNode(core.Address(1), noopRadio{}, zeroRNG{}, core.DefaultConfig(), core.NopStore{}, core.Millis(0))
}

type noopRadio struct{}

func (noopRadio) Send(frame []byte) core.SendResult       { return core.Sent }
func (noopRadio) SetSpreadingFactor(core.SpreadingFactor) {}
func (noopRadio) SetTXPower(int8)                         {}

// zeroRNG satisfies core.RandomSource with all-zero bytes; the REPL
// tests never exercise anything whose security depends on it.
type zeroRNG struct{}

func (zeroRNG) RandomBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

func TestREPL_help_over_pty(t *testing.T) {
	repl := NewREPL(newTestNode(), core.Address(1), time.Now(), &strings.Builder{})
	transcript := driveREPL(t, repl, []string{"help", "quit"})
	require.Contains(t, transcript, "send <address>")
	require.Contains(t, transcript, "neighbors")
}

func TestREPL_status_reports_address(t *testing.T) {
	repl := NewREPL(newTestNode(), core.Address(7), time.Now(), &strings.Builder{})
	transcript := driveREPL(t, repl, []string{"status", "quit"})
	require.Contains(t, transcript, "address=7")
}

func TestREPL_send_requires_two_args(t *testing.T) {
	repl := NewREPL(newTestNode(), core.Address(1), time.Now(), &strings.Builder{})
	transcript := driveREPL(t, repl, []string{"send 5", "quit"})
	require.Contains(t, transcript, "usage: send")
}

func TestREPL_unknown_command(t *testing.T) {
	repl := NewREPL(newTestNode(), core.Address(1), time.Now(), &strings.Builder{})
	transcript := driveREPL(t, repl, []string{"bogus", "quit"})
	require.Contains(t, transcript, `unknown command "bogus"`)
}
