// Command iso14bctl drives an ISO 14443-B device over a serial link: it
// loads session defaults from a YAML config, opens the link, and issues
// connect+select and connect+raw dispatcher requests from the command line.
// No command sends a disconnect request.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"periph.io/x/host/v3"

	"iso14443b.dev/afe/link"
	"iso14443b.dev/dispatch"
	"iso14443b.dev/dispatch/config"
)

var (
	selectFlags = flag.NewFlagSet("select", flag.ExitOnError)
	selectFam   = selectFlags.String("family", "std", "card family: std, sr")
	selectPort  = selectFlags.String("port", "/dev/ttyACM0", "serial port")
	selectConf  = selectFlags.String("config", "", "path to YAML config (optional)")

	rawFlags = flag.NewFlagSet("raw", flag.ExitOnError)
	rawPort  = rawFlags.String("port", "/dev/ttyACM0", "serial port")
	rawCRC   = rawFlags.Bool("crc", true, "append CRC-B before sending")
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "iso14bctl: %v\n", err)
		os.Exit(2)
	}
}

func run(stdout io.Writer, args []string) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	if len(args) == 0 {
		return errors.New("missing command (select, raw)")
	}
	cmd := args[0]
	args = args[1:]
	switch cmd {
	case "select":
		if err := selectFlags.Parse(args); err != nil {
			selectFlags.Usage()
		}
		return doSelect(stdout)
	case "raw":
		if err := rawFlags.Parse(args); err != nil {
			rawFlags.Usage()
		}
		return doRaw(stdout, rawFlags.Args())
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

func loadConfig(path string) config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iso14bctl: config: %v, using defaults\n", err)
		return config.Default()
	}
	return cfg
}

func doSelect(stdout io.Writer) error {
	cfg := loadConfig(*selectConf)
	l, err := link.Open(*selectPort, cfg.BaudRate)
	if err != nil {
		return err
	}
	defer l.Close()

	var flags dispatch.Flag
	switch *selectFam {
	case "std":
		flags = dispatch.Connect | dispatch.SelectStd
	case "sr":
		flags = dispatch.Connect | dispatch.SelectSR
	default:
		return fmt.Errorf("unknown family %q", *selectFam)
	}
	if err := l.WriteFrame(link.Frame{Flags: uint32(flags)}); err != nil {
		return err
	}
	resp, err := l.ReadFrame()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "status=%d payload=%s\n", resp.Flags, hex.EncodeToString(resp.Raw))
	return nil
}

func doRaw(stdout io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("raw: specify one hex-encoded payload")
	}
	payload, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("raw: %w", err)
	}
	l, err := link.Open(*rawPort, 115200)
	if err != nil {
		return err
	}
	defer l.Close()

	flags := dispatch.Connect | dispatch.Raw
	if *rawCRC {
		flags |= dispatch.AppendCRC
	}
	if err := l.WriteFrame(link.Frame{Flags: uint32(flags), Raw: payload}); err != nil {
		return err
	}
	resp, err := l.ReadFrame()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n", hex.EncodeToString(resp.Raw))
	return nil
}
