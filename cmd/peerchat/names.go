package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/internal/names"
	"github.com/quailyquaily/peerchat/peerchat"
)

func newNamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Manage and query the name book",
	}
	cmd.AddCommand(newNamesAddCmd())
	cmd.AddCommand(newNamesListCmd())
	cmd.AddCommand(newNamesDelCmd())
	cmd.AddCommand(newNamesResolveCmd())
	cmd.AddCommand(newNamesServeCmd())
	return cmd
}

func newNamesAddCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "add <name> <address>",
		Short: "Bind a name to an address in the local name book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			record, err := e.svc.PutName(cmd.Context(), e.classifier(), args[0], args[1], time.Now().UTC())
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), record)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "name: %s\naddress: %s\n", record.Name, peerchat.ChecksumAddress(record.Address))
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newNamesListCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List names in the local name book",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			records, err := e.svc.ListNames(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no names")
				return nil
			}
			for _, record := range records {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", record.Name, peerchat.ChecksumAddress(record.Address))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newNamesDelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "del <name>",
		Short: "Remove a name from the local name book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			deleted, err := e.svc.DeleteName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return peerchat.WrapError(peerchat.ErrNotFound, "name %s not found", strings.TrimSpace(args[0]))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", strings.ToLower(strings.TrimSpace(args[0])))
			return nil
		},
	}
	return cmd
}

func newNamesResolveCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve a name through the name book and remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			ns, err := e.nameService()
			if err != nil {
				return err
			}
			resolver := peerchat.NewNameResolver(ns, peerchat.ResolverOptions{Timeout: e.cfg.Session.ResolveTimeout, Logger: e.logger})
			resolved, err := resolver.Lookup(cmd.Context(), args[0])
			metrics.ObserveLookup(err)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"name":       strings.ToLower(strings.TrimSpace(args[0])),
					"address":    peerchat.ChecksumAddress(resolved.Address),
					"provenance": resolved.Provenance,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nprovenance: %s\n", peerchat.ChecksumAddress(resolved.Address), resolved.Provenance)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newNamesServeCmd() *cobra.Command {
	var listen string
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local name book over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			addr := strings.TrimSpace(listen)
			if addr == "" {
				addr = e.cfg.Names.Listen
			}
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			server := &http.Server{
				Handler:           names.NewRouter(names.NewBook(e.svc.Store()), e.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}
			shutdown := runHTTPServer(listener, server, e)

			if outputJSON {
				_ = writeJSON(cmd.OutOrStdout(), map[string]any{"status": "ready", "listen": listener.Addr().String()})
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: ready\nlisten: %s\n", listener.Addr().String())
			}

			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default names.listen from config)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print status as JSON")
	return cmd
}

func runHTTPServer(listener net.Listener, server *http.Server, e *env) func(context.Context) error {
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("name server stopped with error", "error", err)
		}
	}()
	return func(ctx context.Context) error {
		err := server.Shutdown(ctx)
		if closeErr := listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && err == nil {
			err = closeErr
		}
		return err
	}
}
