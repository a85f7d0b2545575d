// Command hello is a sample downstream for the hit counter. It answers
// every request with a greeting naming the requested path, over HTTP,
// gRPC, or both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/pkg/middleware"
	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/downstream"
	"github.com/aluko123/hitcounter/proxy/handlers"
	"google.golang.org/grpc"
)

func hello(_ context.Context, req *proxy.Request) (*proxy.Response, error) {
	return &proxy.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(fmt.Sprintf("Hello, %s!\n", req.Path)),
	}, nil
}

func main() {
	var (
		httpAddr string
		grpcAddr string
		debug    bool
	)
	flag.StringVar(&httpAddr, "http", ":8081", "HTTP listen address (empty disables)")
	flag.StringVar(&grpcAddr, "grpc", "", "gRPC listen address (empty disables)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	level := "INFO"
	if debug {
		level = "DEBUG"
	}
	log := logger.New(logger.Options{Format: "json", Level: level})
	logger.SetDefault(log)

	if httpAddr == "" && grpcAddr == "" {
		log.Error("nothing to serve: both -http and -grpc are empty")
		os.Exit(2)
	}

	errCh := make(chan error, 2)
	var httpServer *http.Server
	var grpcServer *grpc.Server

	if httpAddr != "" {
		httpServer = &http.Server{
			Addr: httpAddr,
			Handler: middleware.Chain(
				handlers.NewHTTP(proxy.HandlerFunc(hello), 0),
				middleware.WithLogging(debug),
				middleware.WithRequestID(),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("serving http", "addr", httpAddr)
			errCh <- httpServer.ListenAndServe()
		}()
	}

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Error("failed to listen", "addr", grpcAddr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		downstream.RegisterGRPC(grpcServer, proxy.HandlerFunc(hello))
		go func() {
			log.Info("serving grpc", "addr", grpcAddr)
			errCh <- grpcServer.Serve(lis)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exited with error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		httpServer.Shutdown(ctx)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}
