package main

import (
	"fmt"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/rpc"
	"github.com/cuemby/hutch/pkg/transport"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [arg...]",
	Short: "Call a remote method",
	Long: `Call a method on a remote server and print the reply as JSON.

Arguments are parsed as JSON when possible and passed as strings otherwise:

  hutch call --endpoint tcp://127.0.0.1:4242 hello '"RPC"'
  hutch call --endpoint tcp://127.0.0.1:4242 add 40 2
  hutch call --endpoint tcp://127.0.0.1:4242 stream_n 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		client, err := dialClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		callArgs := make([]any, 0, len(args)-1)
		for _, raw := range args[1:] {
			callArgs = append(callArgs, parseArg(raw))
		}

		result, err := client.Call(args[0], callArgs...)
		if err != nil {
			return err
		}

		if stream, ok := result.(*rpc.Stream); ok {
			for stream.Next() {
				if err := printResult(stream.Value()); err != nil {
					return err
				}
			}
			return stream.Err()
		}
		return printResult(result)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect the interface exposed by a remote server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		client, err := dialClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Call("_zerorpc_inspect")
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

func dialClient(cfg *config.Config) (*rpc.Client, error) {
	sock, err := transport.NewSocket(transport.Dealer, nil)
	if err != nil {
		return nil, err
	}
	if err := sock.Connect(cfg.Endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
	}
	return rpc.NewClient(sock, rpc.ClientConfig{
		Timeout:   cfg.Timeout.Std(),
		Heartbeat: cfg.Heartbeat.Std(),
	}), nil
}
