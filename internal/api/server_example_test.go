package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/config"
	"github.com/JakeFAU/content-progress-bridge/internal/host"
	memorystorage "github.com/JakeFAU/content-progress-bridge/internal/storage/memory"
)

// ExampleNewServer shows how to serve the host API in front of a service.
func ExampleNewServer() {
	svc, err := host.NewService(host.Config{Repository: memorystorage.NewProgressStore()})
	if err != nil {
		panic(err)
	}
	server := NewServer(svc, nil, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/learners/l1/content/c1/checkpoint", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	fmt.Printf("status: %d\n", rec.Code)
	// Output:
	// status: 404
}
