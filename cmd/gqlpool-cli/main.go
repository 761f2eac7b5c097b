// Command gqlpool-cli sends one query or mutation to a gqlpool gateway and
// prints the response.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/c360/gqlpool/client"
	"github.com/c360/gqlpool/frontend/natsfe"
	"github.com/c360/gqlpool/natsclient"
	"github.com/c360/gqlpool/wire"
)

type options struct {
	addr    string
	natsURL string
	subject string
	op      string
	file    string
	timeout time.Duration
	verbose bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.addr, "addr", getEnv("GQLPOOL_ADDR", "127.0.0.1:7878"), "Gateway socket address (env: GQLPOOL_ADDR)")
	flag.StringVar(&opts.natsURL, "nats", "", "Send through NATS at this URL instead of the socket")
	flag.StringVar(&opts.subject, "subject", "gqlpool", "NATS subject prefix, used with -nats")
	flag.StringVar(&opts.op, "op", "get", "Operation: get, add, update, delete")
	flag.StringVar(&opts.file, "f", "", "Read the request from a file; - for stdin")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flag.BoolVar(&opts.verbose, "v", false, "Log connection details to stderr")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, `Usage: %s [options] [request]

Options:
`, os.Args[0])
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  %s '{ Droid (id: 1) { name } }'
  %s -op add '{ Droid { id: 3 name: "BB-8" } }'
  %s -nats nats://localhost:4222 -op delete '{ Droid (id: 3) }'
`, os.Args[0], os.Args[0], os.Args[0])
	}
	flag.Parse()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(opts, flag.Args(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(opts options, args []string, logger *slog.Logger) error {
	op, err := wire.ParseOp(opts.op)
	if err != nil {
		return err
	}
	body, err := readRequest(opts.file, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	var out string
	if opts.natsURL != "" {
		out, err = sendNATS(ctx, opts, op, body, logger)
	} else {
		out, err = sendSocket(ctx, opts, op, body, logger)
	}
	if out != "" {
		fmt.Println(out)
	}
	return err
}

func readRequest(file string, args []string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		return "", fmt.Errorf("no request given")
	}
}

func sendSocket(ctx context.Context, opts options, op wire.Op, body string, logger *slog.Logger) (string, error) {
	c, err := client.Dial(ctx, opts.addr, client.WithLogger(logger))
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Do(ctx, op, body)
}

func sendNATS(ctx context.Context, opts options, op wire.Op, body string, logger *slog.Logger) (string, error) {
	nc, err := natsclient.NewClient(opts.natsURL, natsclient.WithLogger(logger), natsclient.WithName("gqlpool-cli"))
	if err != nil {
		return "", err
	}
	if err := nc.Connect(ctx); err != nil {
		return "", err
	}
	defer nc.Close(context.Background())

	reply, err := nc.Request(ctx, natsfe.Subject(opts.subject, op), []byte(body))
	if err != nil {
		return "", err
	}
	if reply.Header[natsfe.StatusHeader] == natsfe.StatusError {
		return string(reply.Data), fmt.Errorf("gateway returned an error")
	}
	return string(reply.Data), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
