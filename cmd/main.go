package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	if os.Getenv("LIVEQUIZ_DEBUG") != "" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go func() {
		if err := s.Start(); err != nil {
			slog.Error("Server stopped", "error", err)
			shutdown <- syscall.SIGTERM
		}
	}()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	var c server.Config
	c.HTTP.Port = 8081
	c.Backend.BaseURL = "http://localhost:8080"
	c.Backend.Timeout = 10 * time.Second
	c.Session.Role = server.RolePlayer
	c.Connection.PingInterval = 30 * time.Second
	c.Redis.Relay.Prefix = "livequiz"

	// Without CONFIG_PATH everything comes from LIVEQUIZ_* variables.
	p := os.Getenv("CONFIG_PATH")

	if err := config.Load(p, &c, config.WithEnvPrefix("LIVEQUIZ")); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
