// Command server exposes the submission HTTP surface: POST /submit,
// GET /sse, GET /dashboard, and GET /metrics. Bootstrap mirrors
// cmd/worker's cobra + viper + godotenv pattern; the HTTP layer itself
// uses github.com/labstack/echo/v4.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/taskqueue/internal/broker"
	"github.com/hrygo/taskqueue/internal/config"
	"github.com/hrygo/taskqueue/internal/dashboard"
	"github.com/hrygo/taskqueue/internal/feed"
	"github.com/hrygo/taskqueue/internal/logging"
	"github.com/hrygo/taskqueue/internal/metrics"
	"github.com/hrygo/taskqueue/internal/signals"
	"github.com/hrygo/taskqueue/internal/store"
	"github.com/hrygo/taskqueue/internal/task"
	"github.com/hrygo/taskqueue/internal/validate"
)

func main() {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Accepts task submissions and serves the event feed and dashboard.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindFlags(rootCmd, v)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.FromViper(v, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.Default().With("component", "server")
	ctx = logging.ToContext(ctx, log)

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to store after retry budget exhausted", "error", err.Error())
		return err
	}
	defer st.Close()

	src, err := broker.Connect(ctx, cfg.BrokerURL)
	if err != nil {
		log.Error("failed to connect to broker after retry budget exhausted", "error", err.Error())
		return err
	}
	defer src.Close()

	exporter := metrics.NewExporter()
	evFeed := feed.New(st)
	dash := dashboard.New(st, src)

	e := echo.New()
	e.HideBanner = true
	registerRoutes(e, st, src, evFeed, dash, exporter)

	addr := ":" + itoa(cfg.ServerPort)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "error", err.Error())
		}
	}()
	log.Info("server started", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals.Termination...)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return e.Shutdown(shutdownCtx)
}

func registerRoutes(e *echo.Echo, st store.Store, src *broker.Source, evFeed *feed.Feed, dash *dashboard.Dashboard, exporter *metrics.Exporter) {
	e.POST("/submit", submitHandler(st, src))
	e.GET("/sse", sseHandler(evFeed))
	e.GET("/dashboard", dashboardHandler(dash, exporter))
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
}

type submitRequest struct {
	TaskType string         `json:"task_type"`
	Payload  map[string]any `json:"payload"`
	Priority *int           `json:"priority,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	SSEURL string `json:"sse_url"`
}

// submitHandler validates, persists, and publishes one task submission,
// the validator feeding the broker publish path.
func submitHandler(st store.Store, src *broker.Source) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req submitRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request body"})
		}

		if err := validate.Validate(req.TaskType, req.Payload); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}

		rawPayload, err := marshalPayload(req.Payload)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "encode payload"})
		}

		id := uuid.New()
		t := &task.Task{
			ID:       id,
			TaskType: req.TaskType,
			Payload:  rawPayload,
			Priority: priorityOrDefault(req.Priority),
		}
		if err := st.Insert(c.Request().Context(), t); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persist task"})
		}

		msg := task.Message{TaskID: id.String(), TaskType: req.TaskType, Payload: rawPayload, Priority: req.Priority}
		body, err := marshalMessage(msg)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "encode message"})
		}
		if err := src.Publish(c.Request().Context(), body); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "publish task"})
		}

		return c.JSON(http.StatusOK, submitResponse{
			TaskID: id.String(),
			Status: "submitted",
			SSEURL: "/sse?task_id=" + id.String(),
		})
	}
}

// sseHandler streams feed.Event as text/event-stream for one task.
func sseHandler(evFeed *feed.Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		idParam := c.QueryParam("task_id")
		id, err := uuid.Parse(idParam)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid task_id"})
		}

		resp := c.Response()
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set("Connection", "keep-alive")
		resp.WriteHeader(http.StatusOK)

		events := evFeed.Stream(c.Request().Context(), id)
		for ev := range events {
			payload, err := feed.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := resp.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return nil
			}
			resp.Flush()
		}
		return nil
	}
}

// dashboardHandler serves the latest dashboard.Snapshot as JSON, for a
// polling or JS-driven UI collaborator.
func dashboardHandler(dash *dashboard.Dashboard, exporter *metrics.Exporter) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, err := dash.Snapshot(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assemble snapshot"})
		}
		exporter.SetBrokerQueueDepth(snap.QueueDepth)
		return c.JSON(http.StatusOK, snap)
	}
}

func priorityOrDefault(p *int) int {
	if p == nil {
		return task.DefaultPriority
	}
	return *p
}
