package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Pingable interface {
	HealthCheck(ctx context.Context) error
}

type Checker struct {
	db        interface{ HealthCheck() error }
	cache     Pingable
	registry  *Registry
	threshold time.Duration
	logger    *logrus.Logger
}

type Status struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func NewChecker(db interface{ HealthCheck() error }, cache Pingable, registry *Registry, threshold time.Duration, logger *logrus.Logger) *Checker {
	return &Checker{
		db:        db,
		cache:     cache,
		registry:  registry,
		threshold: threshold,
		logger:    logger,
	}
}

func (c *Checker) Routes(r *mux.Router) {
	r.HandleFunc("/health", c.handler).Methods(http.MethodGet)
	r.HandleFunc("/ready", c.handler).Methods(http.MethodGet) // Kubernetes readiness probe
}

func (c *Checker) handler(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	status := c.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

func (c *Checker) Check(ctx context.Context) Status {
	services := make(map[string]string)
	overallStatus := "healthy"

	if err := c.db.HealthCheck(); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		overallStatus = "unhealthy"
		c.logger.WithError(err).Error("Database health check failed")
	} else {
		services["database"] = "healthy"
	}

	if err := c.cache.HealthCheck(ctx); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		overallStatus = "unhealthy"
		c.logger.WithError(err).Error("Redis health check failed")
	} else {
		services["redis"] = "healthy"
	}

	// Stale streams degrade status but are reported per stream
	for stream, silence := range c.registry.Stale(c.threshold) {
		services["stream:"+stream] = "stale for " + silence.Round(time.Second).String()
		if overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	}

	return Status{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
	}
}
