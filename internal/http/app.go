// Package http holds what the composition root hands the router: the
// configuration, the store health check and the modules mounting routes.
package http

import (
	"context"

	"atelier_backend/platform/config"
	"atelier_backend/platform/logger"
)

// RouterConfig is the part of the configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker pings the order store. It is nil with the in-memory store,
// which is always ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is built by cmd/api once every dependency is up.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
