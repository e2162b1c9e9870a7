package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/Automattic/extws"
	"github.com/Automattic/extws/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file; defaults apply when empty")
	addr := flag.String("addr", "", "http service address, overrides server.addr")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *origin != "" {
		cfg.Server.Origin = *origin
	}
	if l, err := cfg.Log.SlogLevel(); err == nil {
		level.Set(l)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				if l, err := c.Log.SlogLevel(); err == nil {
					level.Set(l)
				}
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	s := extws.New(extws.WithLogger(logger))
	registerHandlers(s)

	if cfg.Metrics.Tick > 0 {
		go s.ReportMetrics(os.Stderr, cfg.Metrics.Tick, ctx.Done())
	}

	handler := extws.NewHandler(s, extws.HandlerConfig{
		Path:           cfg.Server.Path,
		Origin:         cfg.Server.Origin,
		Heartbeat:      cfg.Server.Heartbeat,
		SendBufferSize: cfg.Server.SendBuffer,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	})
	defer handler.Close()

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}
	go func() {
		slog.Info("extws listening", "addr", cfg.Server.Addr, "path", cfg.Server.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("extws shutting down")
	s.Shutdown()
	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "err", err)
	}
}

type helloRequest struct {
	Name string `json:"name"`
}

type helloReply struct {
	Text string `json:"text"`
}

type groupRequest struct {
	Group string `json:"group"`
}

type groupsReply struct {
	Groups []string `json:"groups"`
}

func registerHandlers(s *extws.Server) {
	s.Handle("hello", func(c *extws.Conn, payload []byte) (any, error) {
		var req helloRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errors.Wrap(err, "hello")
		}
		return helloReply{Text: "Hello, " + req.Name + "!"}, nil
	})
	s.Handle("join", func(c *extws.Conn, payload []byte) (any, error) {
		req, err := decodeGroup(payload)
		if err != nil {
			return nil, err
		}
		if err := c.Join(req.Group); err != nil {
			return nil, err
		}
		return groupsReply{Groups: c.Groups()}, nil
	})
	s.Handle("leave", func(c *extws.Conn, payload []byte) (any, error) {
		req, err := decodeGroup(payload)
		if err != nil {
			return nil, err
		}
		if err := c.Leave(req.Group); err != nil {
			return nil, err
		}
		return groupsReply{Groups: c.Groups()}, nil
	})
}

func decodeGroup(payload []byte) (groupRequest, error) {
	var req groupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errors.Wrap(err, "group request")
	}
	if req.Group == "" {
		return req, errors.New("group request: group is empty")
	}
	return req, nil
}
