// Command livectl drives a running live session over its MCP control
// endpoint.
//
//	livectl [-addr URL] start|stop|status|tools|transcript [-limit N]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/astra-live-lab/internal/logging"
	"github.com/astra-live-lab/internal/mcp"
)

var tools = map[string]string{
	"start":      "live_start",
	"stop":       "live_stop",
	"status":     "live_status",
	"transcript": "live_transcript",
}

func main() {
	addr := flag.String("addr", envOr("CONTROL_URL", "http://127.0.0.1:8765"), "control server base URL")
	timeout := flag.Duration("timeout", 90*time.Second, "overall request timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: livectl [-addr URL] start|stop|status|tools|transcript [-limit N]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	tool, ok := tools[flag.Arg(0)]
	if !ok && flag.Arg(0) != "tools" {
		flag.Usage()
		os.Exit(2)
	}

	args := map[string]any{}
	if tool == "live_transcript" {
		sub := flag.NewFlagSet("transcript", flag.ExitOnError)
		limit := sub.Int("limit", 0, "only the most recent N entries")
		_ = sub.Parse(flag.Args()[1:])
		if *limit > 0 {
			args["limit"] = *limit
		}
	}

	logging.Init()
	defer func() { _ = logging.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClientWrapper("livectl", "v0.0.0")
	if err := client.ConnectWebSocket(ctx, *addr+"/mcp/ws"); err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	if flag.Arg(0) == "tools" {
		names, err := client.Tools(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(strings.Join(names, "\n"))
		return
	}

	out, err := client.CallTool(ctx, tool, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
