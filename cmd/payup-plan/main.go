// Command payup-plan prints balances and settlement transfers for a YAML
// ledger file. With -watch it prints again every time the file changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payup/internal/cli"
	"payup/internal/ledgerfile"
	"payup/internal/log"
)

func main() {
	watch := flag.Bool("watch", false, "Recompute whenever the file changes")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-watch] ledger.yaml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := cli.SetupLogger(level, os.Getenv("LOG_FORMAT"))

	if err := printPlan(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if !*watch {
			os.Exit(1)
		}
	}
	if !*watch {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := ledgerfile.Watch(ctx, path, logger, func(l *ledgerfile.Ledger, err error) {
		fmt.Printf("\n--- %s ---\n", time.Now().Format(time.TimeOnly))
		if err == nil {
			err = report(l)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
	if err != nil {
		logger.Error("Watch failed", log.FieldError, err)
		os.Exit(1)
	}
}

func printPlan(path string) error {
	l, err := ledgerfile.Load(path)
	if err != nil {
		return err
	}
	return report(l)
}

func report(l *ledgerfile.Ledger) error {
	sum, err := l.Summarize(time.Now())
	if err != nil {
		return fmt.Errorf("compute plan: %w", err)
	}
	return ledgerfile.WriteReport(os.Stdout, l.Name, sum)
}
