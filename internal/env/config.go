package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/beacon/socket"
)

// Config is the environment-driven connection configuration shared by
// the serving and requesting peers.
//
// The default TCP port is 9999. Historical deployment guides disagreed
// between 3000 and 9999; 9999 is canonical because 3000 collides with
// most local dev web servers.
type Config struct {
	ConnectionKind string `env:"BEACON_CONNECTION_KIND,default=ipc"`
	SocketPath     string `env:"BEACON_SOCKET_PATH"`
	TCPHost        string `env:"BEACON_TCP_HOST,default=127.0.0.1"`
	TCPPort        int    `env:"BEACON_TCP_PORT,default=9999"`

	Trace bool `env:"BEACON_TRACE"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Socket resolves the config into a connection address.
func (c *Config) Socket() socket.Config {
	return socket.Config{
		Kind: socket.Kind(c.ConnectionKind),
		Path: c.SocketPath,
		Host: c.TCPHost,
		Port: c.TCPPort,
	}
}
