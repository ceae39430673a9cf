package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-pipeline/internal/weather"
)

var validate = validator.New()

// PipelineStatus is the read side of the orchestrator exposed by /api/v1/status.
type PipelineStatus interface {
	Cities() []string
	State() weather.State
	LastSummary() (weather.Summary, bool)
}

// NewApp builds the ops API app with centralized JSON errors. accessLog
// receives one line per request; nil disables request logging.
func NewApp(accessLog io.Writer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weather-pipeline",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	if accessLog != nil {
		app.Use(logger.New(logger.Config{Output: accessLog}))
	}
	app.Use(recover.New())
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, pipeline PipelineStatus, reader weather.Reader, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-pipeline",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"cities": pipeline.Cities(),
			"state":  pipeline.State(),
		}
		if summary, ok := pipeline.LastSummary(); ok {
			resp["lastPass"] = summary
		}
		return c.JSON(resp)
	})

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		q, err := parseLatestQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		records, err := reader.Latest(c.UserContext(), q.City)
		if err != nil {
			log.Error("latest query failed", "city", q.City, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query warehouse")
		}
		if q.City != "" && len(records) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no weather data for requested city")
		}
		if records == nil {
			records = []weather.Record{}
		}

		return c.JSON(fiber.Map{"records": records})
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var q historyQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		records, err := reader.History(c.UserContext(), q.City, windowStart(q.Days))
		if err != nil {
			log.Error("history query failed", "city", q.City, "days", q.Days, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query warehouse")
		}
		if len(records) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no weather data for requested city")
		}

		return c.JSON(fiber.Map{
			"city":    q.City,
			"days":    q.Days,
			"records": records,
		})
	})

	v1.Get("/weather/stats", func(c *fiber.Ctx) error {
		var q statsQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		stats, err := reader.Stats(c.UserContext(), q.City, windowStart(q.Days))
		if err != nil {
			log.Error("stats query failed", "city", q.City, "days", q.Days, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query warehouse")
		}

		return c.JSON(fiber.Map{
			"days":  q.Days,
			"stats": stats,
		})
	})
}

func windowStart(days int) time.Time {
	return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// latestQuery holds query parameters for the latest endpoint. An empty city
// means every city.
type latestQuery struct {
	City string `validate:"omitempty,max=100"`
}

func parseLatestQuery(c *fiber.Ctx) (latestQuery, error) {
	q := latestQuery{City: strings.TrimSpace(c.Query("city"))}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// statsQuery holds query parameters for the stats endpoint. An empty city
// means every city.
type statsQuery struct {
	City string `validate:"omitempty,max=100"`
	Days int    `validate:"min=1,max=90"`
}

func (s *statsQuery) bind(c *fiber.Ctx) error {
	s.City = strings.TrimSpace(c.Query("city"))
	days, err := parseDays(c)
	s.Days = days
	return err
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	City string `validate:"required,max=100"`
	Days int    `validate:"min=1,max=90"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.City = strings.TrimSpace(c.Query("city"))
	days, err := parseDays(c)
	h.Days = days
	return err
}

// parseDays reads the days query parameter, defaulting to 7.
func parseDays(c *fiber.Ctx) (int, error) {
	raw := c.Query("days")
	if raw == "" {
		return 7, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("days must be an integer")
	}
	return days, nil
}
