package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/pawfect/pkg/webchat"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat backend (REST API and websocket)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings(cmd, map[string]string{
				"server.addr":           "addr",
				"server.db":             "db",
				"server.jwt-secret":     "jwt-secret",
				"server.admin-email":    "admin-email",
				"server.admin-password": "admin-password",
				"server.room-idle":      "room-idle",
				"redis.enabled":         "redis",
				"redis.addr":            "redis-addr",
			})
			if err != nil {
				return err
			}

			instanceID := s.Redis.Consumer
			if instanceID == "" {
				instanceID = instanceName()
			}
			log.Info().
				Str("addr", s.Server.Addr).
				Str("db", s.Server.DBPath).
				Bool("redis", s.Redis.Enabled).
				Str("instance", instanceID).
				Msg("configuring pawfect server")

			srv, err := webchat.NewServer(cmd.Context(), webchat.ServerConfig{
				Settings:   s.Server,
				Redis:      s.Redis,
				InstanceID: instanceID,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("db", "", "SQLite database file (in-memory store when empty)")
	f.String("jwt-secret", "", "HMAC secret for access and refresh tokens")
	f.String("admin-email", "", "email of the admin account seeded at startup")
	f.String("admin-password", "", "password of the seeded admin account")
	f.Duration("room-idle", 0, "evict empty rooms idle for longer than this")
	f.Bool("redis", false, "fan events out through Redis Streams")
	f.String("redis-addr", "localhost:6379", "Redis address")
	return cmd
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pawfect"
	}
	return host + "-" + uuid.NewString()[:8]
}
