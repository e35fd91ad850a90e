// Command lnk22-node runs one mesh node against a real CAT-controlled
// radio: it owns the Tick loop, the hotplug watch on the radio's data
// port, the status LED, and the LAN discovery announcement, and wires
// them all into a core.Node the way appserver.go wires pflag-parsed
// options into a running TNC session.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/n7node/lnk22/core"
	"github.com/n7node/lnk22/hostio/gpioindicator"
	"github.com/n7node/lnk22/hostio/meshadvert"
	"github.com/n7node/lnk22/hostio/radiohamlib"
	"github.com/n7node/lnk22/hostio/udevwatch"
)

func main() {
	var (
		address    = pflag.Uint32P("address", "a", 0, "This node's mesh address (required).")
		configPath = pflag.StringP("config", "c", "", "YAML config file overriding the defaults.")
		rigModel   = pflag.IntP("rig-model", "m", 1, "hamlib rig model number (see 'rigctl --list').")
		ctlPort    = pflag.StringP("ctl-port", "r", "/dev/ttyUSB0", "CAT control serial port.")
		dataPort   = pflag.StringP("data-port", "d", "/dev/ttyUSB1", "Radio data serial port.")
		baud       = pflag.IntP("baud", "b", 9600, "Serial speed for both ports.")
		gpioChip   = pflag.String("gpio-chip", "", "GPIO chip for the status LED, e.g. gpiochip0. Disabled if empty.")
		gpioLine   = pflag.Int("gpio-line", 0, "GPIO line offset for the status LED.")
		btnChip    = pflag.String("button-chip", "", "GPIO chip for the emergency-trigger button. Disabled if empty.")
		btnLine    = pflag.Int("button-line", 0, "GPIO line offset for the emergency-trigger button.")
		btnHoldMS  = pflag.Uint32("button-hold-ms", 1500, "Hold duration on the button line that cancels an active SOS.")
		advertise  = pflag.Bool("advertise", true, "Announce this node over mDNS/DNS-SD for companion apps.")
		advertPort = pflag.Int("advert-port", 7843, "TCP port advertised for the control endpoint.")
		phoneSock  = pflag.String("phone-socket", "", "Unix socket path for a companion-app connection. Disabled if empty.")
		phonePeer  = pflag.Uint32("phone-peer", 0, "Destination address for lines relayed from the companion app.")
		storeDir   = pflag.StringP("store-dir", "s", "", "Directory for persisted state. Disabled if empty.")
		help       = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: lnk22-node --address N [options]")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help || *address == 0 {
		pflag.Usage()
		if *address == 0 && !*help {
			os.Exit(1)
		}
		return
	}

	cfg := core.DefaultConfig()
	if *configPath != "" {
		loaded, err := core.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	radio, err := radiohamlib.Open(*rigModel, *ctlPort, *dataPort, *baud)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lnk22-node:", err)
		os.Exit(1)
	}
	defer radio.Close()
	radio.SetSpreadingFactor(cfg.LoRaSF)

	var store core.Store = core.NopStore{}
	if *storeDir != "" {
		if err := os.MkdirAll(*storeDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node:", err)
			os.Exit(1)
		}
		store = fileStore{dir: *storeDir}
	}

	start := time.Now()
	now := core.Millis(0)
	node := core.NewNode(core.Address(*address), radio, cryptoRNG{}, cfg, store, now)

	var phone core.PhoneTransport
	if *phoneSock != "" {
		sock, err := meshadvert.ListenPhoneSocket(*phoneSock)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node: phone socket disabled:", err)
		} else {
			defer sock.Close()
			phone = sock
			phone.SetReceiver(func(line string) {
				node.SendMessage(core.Address(*phonePeer), []byte(line), true, core.Millis(uint32(time.Since(start).Milliseconds())))
			})
		}
	}

	node.OnMessage = func(source core.Address, data []byte) {
		fmt.Printf("[lnk22-node] message from %d: %q\n", source, data)
		if phone != nil {
			phone.Send(fmt.Sprintf("%d> %s", source, data))
		}
	}

	var indicator *gpioindicator.Indicator
	if *gpioChip != "" {
		ind, err := gpioindicator.New(*gpioChip, *gpioLine)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node: gpio disabled:", err)
		} else {
			indicator = ind
			indicator.SetPattern(gpioindicator.SlowBlink)
			defer indicator.Close()
		}
	}

	if *btnChip != "" {
		btn, err := gpioindicator.NewButton(*btnChip, *btnLine, *btnHoldMS)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node: emergency button disabled:", err)
		} else {
			defer btn.Close()
			btn.OnPress = func() {
				node.Emergency.ActivateSOS(core.EmergencyGeneral, "panic button pressed", cfg.LoRaSF, 20, core.Millis(uint32(time.Since(start).Milliseconds())))
			}
			btn.OnHold = func() {
				node.Emergency.CancelSOS()
			}
		}
	}

	if *advertise {
		adv, err := meshadvert.Start(fmt.Sprintf("lnk22-node-%d", *address), *advertPort)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node: advertisement disabled:", err)
		} else {
			defer adv.Stop()
		}
	}

	watcher, err := udevwatch.New("tty")
	if err != nil {
		fmt.Fprintln(os.Stderr, "lnk22-node: hotplug watch disabled:", err)
	} else {
		defer watcher.Close()
		go func() {
			for ev := range watcher.Events() {
				if ev.DevicePath == *dataPort && ev.Action == udevwatch.ActionRemove {
					fmt.Fprintln(os.Stderr, "lnk22-node: radio data port unplugged")
				}
			}
		}()
	}

	go func() {
		if err := radio.Run(node.MAC); err != nil {
			fmt.Fprintln(os.Stderr, "lnk22-node: radio read loop ended:", err)
		}
	}()

	tickPeriod := 50 * time.Millisecond
	for range time.Tick(tickPeriod) {
		elapsed := core.Millis(uint32(time.Since(start).Milliseconds()))
		node.Tick(elapsed)
		if indicator != nil {
			if node.Emergency.ActiveSOSCount() > 0 {
				indicator.SetPattern(gpioindicator.FastBlink)
			} else {
				indicator.SetPattern(gpioindicator.SlowBlink)
			}
			indicator.Tick(elapsed)
		}
	}
}

// cryptoRNG satisfies core.RandomSource over crypto/rand, the
// production entropy source a real node needs for handshakes, group
// IDs, bundle IDs, and CSMA jitter.
type cryptoRNG struct{}

func (cryptoRNG) RandomBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("lnk22-node: crypto/rand failed: %v", err))
	}
}

// fileStore is a flat-file core.Store: one file per namespace/key pair
// under dir. No pack example wires a dedicated embedded KV library for
// this kind of small, infrequent blob save (the teacher's own
// persistence, e.g. its device-identity and mheard-save files, is
// plain os.ReadFile/WriteFile), so this stays on the standard library.
type fileStore struct {
	dir string
}

func (fs fileStore) path(namespace, key string) string {
	return filepath.Join(fs.dir, namespace+"_"+key+".bin")
}

func (fs fileStore) Save(namespace, key string, value []byte) error {
	return os.WriteFile(fs.path(namespace, key), value, 0o644)
}

func (fs fileStore) Load(namespace, key string) ([]byte, bool) {
	data, err := os.ReadFile(fs.path(namespace, key))
	if err != nil {
		return nil, false
	}
	return data, true
}
