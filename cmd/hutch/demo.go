package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/rpc"
	"github.com/cuemby/hutch/pkg/transport"
	"github.com/spf13/cobra"
)

var serveDemoCmd = &cobra.Command{
	Use:   "serve-demo",
	Short: "Run a demo server with hello, crash and stream_n methods",
	Long: `Run a demo server for smoke testing clients.

Exposed methods:
  hello(name)    returns "Hello, " + name
  add(a, b)      returns a + b
  crash()        always fails, for testing error propagation
  stream_n(n)    streams the integers 1..n`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		sock, err := transport.NewSocket(transport.Router, nil)
		if err != nil {
			return err
		}
		if err := sock.Bind(cfg.Endpoint); err != nil {
			sock.Close()
			return err
		}

		server := rpc.NewServer(sock, rpc.ServerConfig{
			Name:      "HelloRPC",
			Heartbeat: cfg.Heartbeat.Std(),
		})
		registerDemoMethods(server)

		if metricsAddr != "" {
			go func() {
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					log.Logger.Error().Err(err).Msg("metrics endpoint failed")
				}
			}()
		}

		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			log.Logger.Info().Msg("shutting down")
			server.Stop()
		}()

		log.WithEndpoint(cfg.Endpoint).Info().Msg("demo server listening")
		return server.Run()
	},
}

func init() {
	serveDemoCmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (disabled when empty)")
}

func registerDemoMethods(server *rpc.Server) {
	server.Register("hello", "a test", []rpc.ArgSpec{{Name: "name"}},
		func(args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("hello takes exactly one argument")
			}
			return fmt.Sprintf("Hello, %v", args[0]), nil
		})

	server.Register("add", "add two numbers", []rpc.ArgSpec{{Name: "a"}, {Name: "b"}},
		func(args []any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("add takes exactly two arguments")
			}
			a, aok := asFloat(args[0])
			b, bok := asFloat(args[1])
			if !aok || !bok {
				return nil, fmt.Errorf("add takes two numbers")
			}
			return a + b, nil
		})

	server.Register("crash", "always fails", nil,
		func(args []any) (any, error) {
			return nil, fmt.Errorf("boom")
		})

	server.RegisterStream("stream_n", "stream the integers 1..n", []rpc.ArgSpec{{Name: "n"}},
		func(args []any, send func(any) error) error {
			if len(args) != 1 {
				return fmt.Errorf("stream_n takes exactly one argument")
			}
			n, ok := asFloat(args[0])
			if !ok {
				return fmt.Errorf("stream_n takes a number")
			}
			for i := 1; i <= int(n); i++ {
				if err := send(i); err != nil {
					return err
				}
			}
			return nil
		})
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
