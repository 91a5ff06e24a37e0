// Awh is a minimal client/server demo for this module's HTTP/1.1 and
// WebSocket engines: pass --listen to run an echo server, or --url to
// dial one (optionally sending the lines read from stdin).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/kosmosnet/awh/internal/logger"
	"github.com/kosmosnet/awh/internal/xdgpath"
	"github.com/kosmosnet/awh/pkg/dnsresolver"
	"github.com/kosmosnet/awh/pkg/icmpping"
	"github.com/kosmosnet/awh/pkg/payloadcrypto"
	"github.com/kosmosnet/awh/pkg/webclient"
	"github.com/kosmosnet/awh/pkg/webserver"
)

const (
	ConfigDirName  = "awh"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "awh",
		Usage:   "HTTP/1.1, HTTP/2, and WebSocket client/server engine",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "debug-level logging, instead of info-level",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "run an echo server on this address (e.g. :8080) instead of dialing --url",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_LISTEN"),
				toml.TOML("awh.listen", path),
			),
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "target URL to dial (ws://, wss://, http://, https://)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_URL"),
				toml.TOML("awh.url", path),
			),
		},
		&cli.StringFlag{
			Name:  "subprotocol",
			Usage: "WebSocket subprotocol to offer/accept",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_SUBPROTOCOL"),
				toml.TOML("awh.subprotocol", path),
			),
		},
		&cli.IntFlag{
			Name:  "segment-size",
			Usage: "WebSocket message fragmentation threshold in bytes, 0 disables it",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_SEGMENT_SIZE"),
				toml.TOML("awh.segment_size", path),
			),
		},
		&cli.StringFlag{
			Name:  "crypto-passphrase",
			Usage: "enable PayloadCrypto with this passphrase",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_CRYPTO_PASSPHRASE"),
				toml.TOML("awh.crypto_passphrase", path),
			),
		},
		&cli.StringFlag{
			Name:  "crypto-salt",
			Usage: "PBKDF2 salt for PayloadCrypto",
			Value: "awh",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_CRYPTO_SALT"),
				toml.TOML("awh.crypto_salt", path),
			),
		},
		&cli.StringFlag{
			Name:  "ping",
			Usage: "send ICMP Echo Requests to this host and print the mean RTT, instead of --listen/--url",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_PING"),
				toml.TOML("awh.ping", path),
			),
		},
		&cli.IntFlag{
			Name:  "ping-count",
			Usage: "number of Echo Requests to send with --ping",
			Value: 4,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_PING_COUNT"),
				toml.TOML("awh.ping_count", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "dns-server",
			Usage: "nameserver to query for --ping hostname resolution (repeatable), e.g. 1.1.1.1:53",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("AWH_DNS_SERVERS"),
				toml.TOML("awh.dns_servers", path),
			),
		},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))

	if host := cmd.String("ping"); host != "" {
		return runPing(ctx, host, cmd)
	}

	crypto, err := buildCrypto(cmd)
	if err != nil {
		return err
	}

	if listen := cmd.String("listen"); listen != "" {
		return runServer(ctx, listen, cmd, crypto)
	}
	if url := cmd.String("url"); url != "" {
		return runClient(ctx, url, cmd, crypto)
	}
	return fmt.Errorf("one of --listen, --url, or --ping is required")
}

func runPing(ctx context.Context, host string, cmd *cli.Command) error {
	resolver := dnsresolver.New(dnsresolver.Config{
		Servers:   cmd.StringSlice("dns-server"),
		EnvPrefix: "AWH",
	})

	probe := icmpping.ProbePrivilege()
	pinger := icmpping.NewPinger(resolver, probe, 2*time.Second, 2*time.Second)

	rttMs, err := pinger.PingSync(ctx, host, int(cmd.Int("ping-count")))
	if err != nil {
		return err
	}

	fmt.Printf("%s: mean rtt=%.3fms (%s)\n", host, rttMs, probe)
	return nil
}

func buildCrypto(cmd *cli.Command) (*payloadcrypto.Context, error) {
	pass := cmd.String("crypto-passphrase")
	if pass == "" {
		return nil, nil
	}
	return payloadcrypto.New(pass, cmd.String("crypto-salt"), payloadcrypto.AES256)
}

func runServer(ctx context.Context, addr string, cmd *cli.Command, crypto *payloadcrypto.Context) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("listening", slog.String("addr", ln.Addr().String()))

	srv, err := webserver.New(ln, nil, webserver.Options{
		Crypto:      crypto,
		SegmentSize: int(cmd.Int("segment-size")),
	}, nil, webserver.WSHandler{
		Active: func(conn *webserver.Conn) {
			slog.Info("connection accepted", slog.Any("remote", conn.RemoteAddr()))
		},
		Message: func(conn *webserver.Conn, data []byte, binary bool) {
			slog.Info("message received", slog.Int("length", len(data)))
			if err := conn.Send(data, binary); err != nil {
				slog.Error("echo failed", slog.Any("error", err))
			}
		},
		End: func(conn *webserver.Conn) {
			slog.Info("connection closed", slog.Any("remote", conn.RemoteAddr()))
		},
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Serve(ctx)
}

func runClient(ctx context.Context, url string, cmd *cli.Command, crypto *payloadcrypto.Context) error {
	done := make(chan struct{})

	var subprotocols []string
	if sp := cmd.String("subprotocol"); sp != "" {
		subprotocols = []string{sp}
	}

	c, err := webclient.New(webclient.Options{
		URL:            url,
		Subprotocols:   subprotocols,
		Crypto:         crypto,
		SegmentSize:    int(cmd.Int("segment-size")),
		ConnectTimeout: 10 * time.Second,
	}, webclient.Callbacks{
		Active: func() { slog.Info("connected") },
		Message: func(data []byte, binary bool) {
			fmt.Printf("< %s\n", data)
		},
		End: func() {
			slog.Info("connection closed by peer")
			close(done)
		},
		Error: func(err error) {
			slog.Error("connection error", slog.Any("error", err))
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := c.Send(scanner.Bytes(), false); err != nil {
				slog.Error("send failed", slog.Any("error", err))
				return
			}
		}
		c.CloseWS(1000, "stdin closed")
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// configFile returns the path to the app's configuration file, creating
// an empty one if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdgpath.ConfigFile(ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the process-wide logger: a zerolog console writer
// when stderr is a terminal, JSON otherwise. --dev lowers the minimum
// level from info to debug; it does not change the output format.
func initLog(devMode bool) {
	w := os.Stderr
	level := slog.LevelInfo
	if devMode {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logger.NewZerologHandler(w, level)))
}
