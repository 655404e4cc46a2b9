package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/beacon/commands"
	"github.com/luma/beacon/internal/env"
	"github.com/luma/beacon/socket"
	"github.com/luma/beacon/storage"
	"github.com/luma/beacon/transport"
)

var (
	// Connection kind, overriding BEACON_CONNECTION_KIND
	kind string

	// IPC socket path, overriding BEACON_SOCKET_PATH
	socketPath string

	// TCP host, overriding BEACON_TCP_HOST
	host string

	// TCP port, overriding BEACON_TCP_PORT
	port int

	// The port to serve the HTTP health endpoint on
	httpPort string
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.StringVarP(&kind, "kind", "k", "", "The connection kind to listen with (ipc or tcp)")
	flags.StringVar(&socketPath, "socket-path", "", "The IPC socket path to listen on")
	flags.StringVarP(&host, "host", "a", "", "The TCP host to listen on")
	flags.IntVarP(&port, "port", "p", 0, "The TCP port to listen on")
	flags.StringVar(&httpPort, "http-port", "", "Serve an HTTP health endpoint on this port")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the beacon command server",
	Long: `Start the beacon command server

Listens for agent connections on an IPC socket (default) or a TCP
port and serves the registered command namespace over the beacon
protocol.

Usage
	beacon serve

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		cfg := resolveSocket(conf)

		store := storage.NewInmemoryStore()
		console := commands.NewConsoleLog(0)

		dispatcher := transport.NewDispatcher()
		commands.RegisterBuiltins(dispatcher, store, console)

		server := transport.NewServer(transport.Options{
			Config:     cfg,
			Dispatcher: dispatcher,
			Trace:      conf.Trace,
			Log:        log.Named("transport"),
		})

		if err := server.Start(ctx); err != nil {
			return err
		}

		var httpServer *http.Server
		if httpPort != "" {
			httpServer = startHTTP(log)
		}

		log.Info("Serving",
			zap.String("kind", string(cfg.Kind)),
			zap.String("address", cfg.Address()))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if httpServer != nil {
			// The context gives the server 5 seconds to finish the
			// request it is currently handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			httpServer.SetKeepAlivesEnabled(false)

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := server.Close(); err != nil {
			log.Error("Beacon server forced to shutdown", zap.Error(err))
		}

		if err := store.Close(); err != nil {
			log.Error("Store did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// resolveSocket layers the command line flags over the environment
// configuration.
func resolveSocket(conf *env.Config) socket.Config {
	cfg := conf.Socket()

	if kind != "" {
		cfg.Kind = socket.Kind(kind)
	}

	if socketPath != "" {
		cfg.Path = socketPath
	}

	if host != "" {
		cfg.Host = host
	}

	if port != 0 {
		cfg.Port = port
	}

	return cfg
}

func startHTTP(log *zap.Logger) *http.Server {
	router := setupRouter(log)

	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s := &http.Server{
		Addr:    net.JoinHostPort("127.0.0.1", httpPort),
		Handler: router,
	}

	// Initializing the server in a goroutine so that it won't block
	// the graceful shutdown handling in RunE
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Http server errored", zap.Error(err))
		}
	}()

	return s
}

func setupRouter(log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
