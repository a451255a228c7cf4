// Command overlay starts a single node of the overlay control plane,
// either as the root of a new tree (`host`) or as a node joining an
// existing one (`connect`). Exit codes follow spec.md §6: negative on
// startup/validation failure, fatal (non-zero) if parent-change cannot
// place the node.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/swessel1/overlay/internal/log"
	"github.com/swessel1/overlay/internal/metrics"
	"github.com/swessel1/overlay/pkg/overlay"
	"github.com/swessel1/overlay/pkg/overlay/wire"
)

const (
	defaultTCPPort = 26005
	defaultMaxConn = 10
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(-1)
	}

	mode := os.Args[1]
	args := os.Args[2:]

	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	verbose := fs.BoolP("verbose", "v", false, "log at debug level to stdout")
	terminal := fs.BoolP("terminal", "t", false, "receive-only leaf, never a parent candidate")
	tcpPort := fs.Uint16P("tcp-port", "p", defaultTCPPort, "local listening port (ignored if terminal)")
	maxConn := fs.IntP("max-connections", "m", defaultMaxConn, "cap on number of children")

	var host string
	var port uint16
	var key string

	switch mode {
	case "host":
		if err := fs.Parse(args); err != nil {
			os.Exit(-1)
		}
		rest := fs.Args()
		if len(rest) != 2 {
			usage()
			os.Exit(-1)
		}
		// rest[0] is the shared directory for the file-transfer
		// application the overlay carries; out of scope here.
		key = rest[1]
	case "connect":
		if err := fs.Parse(args); err != nil {
			os.Exit(-1)
		}
		rest := fs.Args()
		if len(rest) != 3 {
			usage()
			os.Exit(-1)
		}
		host = rest[0]
		p, err := strconv.ParseUint(rest[1], 10, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "overlay: bad port %q: %v\n", rest[1], err)
			os.Exit(-1)
		}
		port = uint16(p)
		key = rest[2]
	default:
		usage()
		os.Exit(-1)
	}

	logger := log.New(*verbose, os.Stdout)

	// max-connections of 0 implies terminal, regardless of --terminal.
	isTerminal := *terminal || *maxConn == 0

	cfg := overlay.Config{
		Key:         key,
		Terminal:    isTerminal,
		TCPPort:     *tcpPort,
		MaxConn:     *maxConn,
		BusCapacity: 0,
		Logger:      logger,
		Metrics:     metrics.New(prometheus.NewRegistry()),
	}

	if mode == "connect" {
		addr, err := resolveParentAddr(host, port)
		if err != nil {
			logger.Errorf("overlay: cannot resolve parent %s:%d: %v", host, port, err)
			os.Exit(-1)
		}
		cfg.ParentAddr = &addr
	}

	proc := overlay.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("overlay: terminated: %v", err)
		proc.Shutdown()
		os.Exit(-1)
	}
	proc.Shutdown()
}

func resolveParentAddr(host string, port uint16) (wire.PeerAddr, error) {
	ip, err := parseIPv4(host)
	if err != nil {
		return wire.PeerAddr{}, err
	}
	return wire.PeerAddr{IP: ip, Port: port}, nil
}

func parseIPv4(host string) (uint32, error) {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, err
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("could not resolve %q to an IPv4 address", host)
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3]), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  overlay host <dir> <key> [--verbose] [--terminal] [--tcp-port N] [--max-connections N]")
	fmt.Fprintln(os.Stderr, "  overlay connect <host> <port> <key> [--verbose] [--terminal] [--tcp-port N] [--max-connections N]")
}
