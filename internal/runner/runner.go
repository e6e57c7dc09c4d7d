// Package runner drives a Chromium browser through a job's navigation steps
// and captures screenshots along the way.
package runner

import (
	"fmt"

	"rpa-agent/internal/model"
)

// validateRoutes checks that the document carries at least one navigation step
// and that every step has a URL.
func validateRoutes(routes []model.Route) error {
	if len(routes) == 0 {
		return fmt.Errorf("no navigation routes configured")
	}
	for idx, route := range routes {
		if route.URL == "" {
			return fmt.Errorf("empty URL at position %d", idx+1)
		}
	}
	return nil
}

// viewport returns the configured viewport, falling back to full HD.
func viewport(screen model.ScreenConfig) (int64, int64) {
	width, height := screen.ViewportWidth, screen.ViewportHeight
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}
	return int64(width), int64(height)
}
