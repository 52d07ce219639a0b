package http

import "github.com/gin-gonic/gin"

// Module mounts one bounded context's routes. The production workflow is
// the only one today.
type Module interface {
	// Name is logged once the routes are mounted.
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a module mounts on. Routes in
// Protected see the caller identity set by the JWT middleware.
type RouterContext struct {
	V1        *gin.RouterGroup
	Protected *gin.RouterGroup
}
