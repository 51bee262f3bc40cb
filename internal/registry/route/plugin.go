package route

import (
	"cmp"
	"slices"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, readiness, metrics).
	// When no dedicated management port is configured, these are mounted on the main server.
	RouteTypeManagement
)

// Plugin is a route loader with an order for deterministic mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Loaders returns the loaders of type t, sorted by order.
func Loaders(t RouteType) []RouterLoader {
	matching := slices.DeleteFunc(slices.Clone(plugins), func(p Plugin) bool { return p.Type != t })
	slices.SortStableFunc(matching, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	loaders := make([]RouterLoader, 0, len(matching))
	for _, p := range matching {
		loaders = append(loaders, p.Loader)
	}
	return loaders
}

// MainRouteLoaders returns loaders for RouteTypeMain plugins.
func MainRouteLoaders() []RouterLoader { return Loaders(RouteTypeMain) }

// ManagementRouteLoaders returns loaders for RouteTypeManagement plugins.
func ManagementRouteLoaders() []RouterLoader { return Loaders(RouteTypeManagement) }

// Mount runs every loader of type t against r.
func Mount(r *gin.Engine, t RouteType) error {
	for _, loader := range Loaders(t) {
		if err := loader(r); err != nil {
			return err
		}
	}
	return nil
}
