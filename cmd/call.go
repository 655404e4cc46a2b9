package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/env"
	"github.com/luma/beacon/protocol"
)

var (
	// How long to wait for the application to answer
	callTimeout time.Duration
)

func init() {
	flags := CallCmd.PersistentFlags()

	flags.StringVarP(&kind, "kind", "k", "", "The connection kind to dial with (ipc or tcp)")
	flags.StringVar(&socketPath, "socket-path", "", "The IPC socket path to dial")
	flags.StringVarP(&host, "host", "a", "", "The TCP host to dial")
	flags.IntVarP(&port, "port", "p", 0, "The TCP port to dial")
	flags.DurationVarP(&callTimeout, "timeout", "t", client.DefaultTimeout, "How long to wait for a response")
}

var CallCmd = &cobra.Command{
	Use:   "call <command> [payload]",
	Short: "Send a single command to a running application",
	Long: `Send a single command to a running application

Dials the application, sends one request and prints the response
data to stdout. The payload is either a JSON object or a bare
window label.

Usage
	beacon call ping
	beacon call get_dom '{"window_label": "main"}'
	beacon call get_dom main

`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		conn := client.New(resolveSocket(conf), client.Options{
			Timeout: callTimeout,
			Log:     log.Named("client"),
		})
		defer conn.Close()

		var payload interface{}
		if len(args) == 2 {
			payload = decodePayload(args[1])
		}

		data, err := conn.SendCommand(ctx, protocol.Command(args[0]), payload)
		if err != nil {
			return err
		}

		if len(data) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}

		return nil
	},
}

// decodePayload takes a JSON object argument verbatim and treats
// anything else as a window label.
func decodePayload(arg string) interface{} {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}

	return arg
}
