package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/citycard-gateway/internal/devbackend"
	"github.com/jrsteele09/citycard-gateway/token"
)

const (
	shutdownTimeout = 5 * time.Second
	purgeInterval   = time.Minute
)

var devAddr string

var devbackendCmd = &cobra.Command{
	Use:   "devbackend",
	Short: "Run the local development backend",
	Long: `Run an in-memory stand-in for the citizen card API on the configured
address, with a demo citizen and administrator account. Tokens it issues are
signed with the configured development secret and must not be trusted elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := settings.GetDevBackendAddr()
		if devAddr != "" {
			addr = devAddr
		}

		opts := []devbackend.Option{devbackend.WithLogger(log.Logger)}
		if addr := settings.GetRevocationRedisAddr(); addr != "" {
			client := redis.NewClient(&redis.Options{Addr: addr})
			defer func() { _ = client.Close() }()
			if err := client.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("revocation redis ping failed: %w", err)
			}
			opts = append(opts, devbackend.WithRevocationCache(token.NewRedisRevocationList(client, "")))
			log.Info().Str("addr", addr).Msg("sharing revoked tokens through redis")
		}

		backend, err := devbackend.New(settings, opts...)
		if err != nil {
			return err
		}
		displayAppname("citycard dev")

		server := &http.Server{Addr: addr, Handler: backend, ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() { errCh <- listenAndServe(server) }()
		go purgeRevoked(cmd.Context(), backend)

		for _, seed := range devbackend.DefaultSeedUsers() {
			log.Info().Str("email", seed.Email).Str("password", seed.Password).Msg("demo account")
		}

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}
		return shutdown(server)
	},
}

func init() {
	devbackendCmd.Flags().StringVar(&devAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(devbackendCmd)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Str("prefix", devbackend.APIPrefix).Msg("dev backend listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("dev backend stopped")
	return nil
}

func purgeRevoked(ctx context.Context, backend *devbackend.Server) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			backend.PurgeRevoked()
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
