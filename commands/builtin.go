// Package commands provides the leaf command handlers the desktop peer
// can serve without help from the host application: health checks,
// key-value storage, and console log capture. Everything else in the
// command namespace (screenshots, DOM access, input simulation, window
// control) touches UI machinery only the host owns, so the host
// registers those itself.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/storage"
	"github.com/luma/beacon/transport"
)

// RegisterBuiltins installs the in-process handlers on dispatcher.
func RegisterBuiltins(dispatcher *transport.Dispatcher, store storage.Store, console *ConsoleLog) {
	dispatcher.Register(protocol.Ping, PingHandler())
	dispatcher.Register(protocol.ManageLocalStorage, LocalStorageHandler(store))
	dispatcher.Register(protocol.GetConsoleLogs, ConsoleLogsHandler(console))
}

// PingHandler answers the health probe.
func PingHandler() transport.Handler {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return "pong", nil
	}
}

// LocalStorageHandler serves the manage_local_storage command family.
//
// Payload shape: {"action": "get"|"set"|"delete"|"keys", "key": <string>,
// "value": <any>}. get returns {"value": <stored>, "found": <bool>}.
func LocalStorageHandler(store storage.Store) transport.Handler {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		action := gjson.GetBytes(payload, "action").String()
		key := gjson.GetBytes(payload, "key").String()

		if action != "keys" && key == "" {
			return nil, fmt.Errorf("manage_local_storage %q requires a key", action)
		}

		switch action {
		case "get":
			value, err := store.Get(ctx, key)
			if err != nil {
				return nil, err
			}

			if value == nil {
				return map[string]interface{}{"found": false}, nil
			}

			return map[string]interface{}{
				"found": true,
				"value": json.RawMessage(value),
			}, nil

		case "set":
			value := gjson.GetBytes(payload, "value")
			if !value.Exists() {
				return nil, fmt.Errorf("manage_local_storage set requires a value")
			}

			if err := store.Set(ctx, key, value.Value()); err != nil {
				return nil, err
			}

			return map[string]bool{"ok": true}, nil

		case "delete":
			if err := store.Delete(ctx, key); err != nil {
				return nil, err
			}

			return map[string]bool{"ok": true}, nil

		case "keys":
			keys, err := store.Keys(ctx)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{"keys": keys}, nil

		default:
			return nil, fmt.Errorf("Unknown manage_local_storage action: %q", action)
		}
	}
}

// ConsoleLogsHandler serves get_console_logs from the capture ring.
//
// Payload shape: {"limit": <int>}; limit 0 returns everything held.
func ConsoleLogsHandler(console *ConsoleLog) transport.Handler {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		limit := int(gjson.GetBytes(payload, "limit").Int())

		return map[string]interface{}{
			"entries": console.Tail(limit),
		}, nil
	}
}
