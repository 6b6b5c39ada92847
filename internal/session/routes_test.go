package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{path: "/login", expected: true},
		{path: "/login/", expected: true},
		{path: "/login?next=/dashboard", expected: true},
		{path: "/register/confirm", expected: true},
		{path: "/booking/salon-ana", expected: true},
		{path: "/loginx", expected: false},
		{path: "/dashboard", expected: false},
		{path: "/", expected: false},
		{path: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsPublicRoute(tt.path, DefaultPublicRoutes))
		})
	}
}
