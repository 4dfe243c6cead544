package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bankai-xyz/bankai/internal/httpapi"
)

const FlagHTTPAddr = "http-addr"

// DaemonCmd runs the scheduler loop until SIGINT/SIGTERM, the same
// signal.Notify-then-cancel shutdown idiom modules/event-loop/main.go uses,
// with the read-only HTTP status facade served alongside it.
func DaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler loop and HTTP status facade until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			httpAddr, _ := cmd.Flags().GetString(FlagHTTPAddr)

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := newScheduler(a)

			facade := httpapi.New(a.store, a.logger)
			httpSrv := &http.Server{Addr: httpAddr, Handler: facade.Handler()}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Error("http status facade stopped", "err", err)
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			fmt.Printf("bankai daemon starting, http facade on %s\n", httpAddr)
			runErr := sched.Run(ctx)
			_ = httpSrv.Close()
			return runErr
		},
	}
	cmd.Flags().String(FlagHTTPAddr, ":8089", "address for the read-only HTTP status facade")
	return cmd
}
