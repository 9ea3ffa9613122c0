package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	transportGRPC "chargeline/internal/transport/grpc"

	"golang.org/x/sync/errgroup"
)

type options struct {
	backend     string
	unit        int64
	serviceType string
	delay       string
	parallel    int
	reset       bool
}

func main() {
	var opts options
	addr := flag.String("addr", "localhost:50051", "ChargeService address")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.StringVar(&opts.backend, "backend", "redis", "store backend: redis or memcached")
	flag.Int64Var(&opts.unit, "unit", 0, "units to debit")
	flag.StringVar(&opts.serviceType, "service-type", "", "optional service type tag")
	flag.StringVar(&opts.delay, "delay", "", "delay sentinel passed with every debit")
	flag.IntVar(&opts.parallel, "n", 1, "number of debits sent at once")
	flag.BoolVar(&opts.reset, "reset", false, "reset the balance before debiting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	conn, err := transportGRPC.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := run(ctx, transportGRPC.NewClient(conn), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chargectl: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
}

// run optionally resets the balance and then sends opts.parallel debits at
// once, printing one JSON line per result in completion order.
func run(ctx context.Context, client *transportGRPC.Client, opts options, out io.Writer) error {
	enc := json.NewEncoder(out)

	if opts.reset {
		balance, err := client.ResetBalance(ctx, opts.backend)
		if err != nil {
			return fmt.Errorf("reset %s: %w", opts.backend, err)
		}
		if err := enc.Encode(map[string]int64{"balance": balance}); err != nil {
			return err
		}
	}
	if opts.unit == 0 && opts.parallel <= 1 {
		return nil
	}

	results := make(chan *transportGRPC.DebitResult, max(opts.parallel, 1))
	var g errgroup.Group
	for range max(opts.parallel, 1) {
		g.Go(func() error {
			res, err := client.Debit(ctx, &transportGRPC.DebitRequest{
				Backend:     opts.backend,
				ServiceType: opts.serviceType,
				Unit:        opts.unit,
				Delay:       opts.delay,
			})
			if err != nil {
				return fmt.Errorf("debit %s: %w", opts.backend, err)
			}
			results <- res
			return nil
		})
	}
	err := g.Wait()
	close(results)

	for res := range results {
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	}
	return err
}
