package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "membershipctl",
		Short:         "One-shot maintenance jobs for the membership service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(jobCmd("sweep", "expiration-sweep", "Expire lapsed memberships and queue renewal reminders"))
	rootCmd.AddCommand(jobCmd("dispatch", "notification-dispatch", "Deliver due notifications once"))
	rootCmd.AddCommand(jobCmd("purge", "notification-purge", "Delete sent notifications past retention"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
