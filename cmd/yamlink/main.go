// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// yamlink bridges YAML documents and generic-netlink kernel
// subsystems.
//
// "yamlink get <command>" sends the named request and streams the
// kernel's reply to stdout as YAML. "yamlink set [file]" feeds a YAML
// document (stdin when no file is given) through the outbound
// transcoder to the kernel.
//
// Command names, the family they address, and the protocol version
// come from the config file (YAMLINK_CONFIG or --config). A session
// can be journaled with --record and re-run offline with --replay.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/yamlink-foundation/yamlink/lib/capture"
	"github.com/yamlink-foundation/yamlink/lib/config"
	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/transcode"
	"github.com/yamlink-foundation/yamlink/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		family     string
		nlVersion  uint8
		reqFlags   uint16
		record     string
		replay     string
		logLevel   string
		stream     bool
	)

	flagSet := pflag.NewFlagSet("yamlink", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the yamlink config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&family, "family", "", "generic-netlink family to address (overrides the config)")
	flagSet.Uint8Var(&nlVersion, "nl-version", 0, "protocol version stamped on requests (overrides the config)")
	flagSet.Uint16Var(&reqFlags, "flags", 0, "netlink header flags for the request (overrides the command's)")
	flagSet.StringVar(&record, "record", "", "journal the session to this capture file")
	flagSet.StringVar(&replay, "replay", "", "replay a capture file instead of talking to the kernel (get only)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.BoolVar(&stream, "stream", false, "receive asynchronous events (always on for commands configured with stream)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing; it is recognised only as
	// the first argument.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("yamlink")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("missing subcommand")
	}

	logger := newLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if family != "" {
		cfg.Family = family
	}
	if flagSet.Changed("nl-version") {
		cfg.Version = nlVersion
	}
	var flagsOverride *uint16
	if flagSet.Changed("flags") {
		flagsOverride = &reqFlags
	}

	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: yamlink get <command>")
		}
		return runGet(cfg, args[1], stream, flagsOverride, record, replay, logger)
	case "set":
		if len(args) > 2 {
			return fmt.Errorf("usage: yamlink set [file]")
		}
		input := io.Reader(os.Stdin)
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			input = f
		}
		return runSet(cfg, input, flagsOverride, record, logger)
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

// openTransport dials the family, or opens the capture file replacing
// it, and layers recording on top when asked.
func openTransport(cfg *config.Config, record, replay string) (transcode.Transport, func(), error) {
	if replay != "" {
		replayer, err := capture.Open(replay)
		if err != nil {
			return nil, nil, err
		}
		return replayer, func() {}, nil
	}

	sock, err := genl.Dial(cfg.Family)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { sock.Close() }

	if record == "" {
		return sock, cleanup, nil
	}
	recorder, err := capture.NewRecorder(sock, record)
	if err != nil {
		sock.Close()
		return nil, nil, err
	}
	return recorder, func() {
		if err := recorder.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		sock.Close()
	}, nil
}

func runGet(cfg *config.Config, name string, streamFlag bool, flagsOverride *uint16, record, replay string, logger *slog.Logger) error {
	cmd, err := cfg.Lookup(name)
	if err != nil {
		return err
	}
	stream := cmd.Stream || streamFlag
	flags := cmd.Flags
	if flagsOverride != nil {
		flags = *flagsOverride
	}

	transport, cleanup, err := openTransport(cfg, record, replay)
	if err != nil {
		return err
	}
	defer cleanup()

	reader, err := transcode.NewReader(transport, stream, logger)
	if err != nil {
		return err
	}
	if err := transport.SendCommand(cmd.ID, cfg.Version, flags); err != nil {
		return err
	}

	if _, err := io.Copy(os.Stdout, reader); err != nil {
		transcode.LogReaderError(os.Stderr, err, reader, name)
		return fmt.Errorf("get %s failed", name)
	}
	return nil
}

func runSet(cfg *config.Config, input io.Reader, flagsOverride *uint16, record string, logger *slog.Logger) error {
	cmd, err := cfg.Lookup("set")
	if err != nil {
		return err
	}
	flags := cmd.Flags
	if flagsOverride != nil {
		flags = *flagsOverride
	}

	transport, cleanup, err := openTransport(cfg, record, "")
	if err != nil {
		return err
	}
	defer cleanup()

	writer, err := transcode.NewWriter(transport, cfg.Version, cmd.ID, flags, logger)
	if err != nil {
		return err
	}
	if _, err := io.Copy(writer, input); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		transcode.LogWriterError(os.Stderr, err, writer)
		return fmt.Errorf("set failed")
	}
	return nil
}

// newLogger builds the stderr logger: human text on a terminal, JSON
// records when piped.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Print(`yamlink - YAML bridge to generic-netlink subsystems

Usage:
  yamlink [flags] get <command>   request data and print it as YAML
  yamlink [flags] set [file]      send a YAML document (default: stdin)
  yamlink --version

Flags:
`)
	fmt.Print(flagSet.FlagUsages())
}
