package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/catalogops/internal/server"
	"github.com/nainya/catalogops/pkg/catalog/remote"
)

func newServeCommand(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local item database over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Backend.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "The server port (overrides backend.port)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	port := a.cfg.Backend.Port
	a.log.LogServerStart(port, a.cfg.Store.Path)

	store, err := a.openLocal(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(a.cfg.Backend.MaxMessageBytes),
		grpc.MaxSendMsgSize(a.cfg.Backend.MaxMessageBytes),
		grpc.UnaryInterceptor(server.RPCInterceptor(a.metrics, a.log)),
	)
	remote.Register(grpcServer, store)

	// Reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if mp := a.cfg.Observability.MetricsPort; mp != 0 {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		obs = server.NewObservabilityServer(mp, a.registry, store.Ping, a.log)
		go func() {
			if err := obs.Start(); err != nil {
				a.log.Error("observability server stopped").Err(err).Send()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		a.log.LogServerShutdown()
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("observability shutdown failed").Err(err).Send()
			}
		}
		grpcServer.GracefulStop()
	}()

	a.log.LogServerReady(port)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}
