package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forkful/gateway/internal/respond"
	"github.com/forkful/gateway/pkg/health"
)

// healthProbeTimeout bounds each upstream probe so one slow service cannot
// stall the aggregate report.
const healthProbeTimeout = 2 * time.Second

// aggregateHealthResponse reports the gateway's view of its upstreams.
type aggregateHealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// AggregateHealth returns a handler probing every upstream's health endpoint
// concurrently and reporting per-service status. The report is 200 with
// status "ok" when every upstream answers, otherwise 200 with status
// "degraded": the gateway itself is healthy either way.
func (h *Handler) AggregateHealth(upstreams map[string]string) http.Handler {
	client := &http.Client{Timeout: healthProbeTimeout}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var mu sync.Mutex
		statuses := make(map[string]string, len(upstreams))

		g, ctx := errgroup.WithContext(r.Context())
		for name, baseURL := range upstreams {
			g.Go(func() error {
				status := probeUpstream(ctx, client, baseURL+"/healthz")
				mu.Lock()
				statuses[name] = status
				mu.Unlock()
				return nil
			})
		}
		// Probes report through the map, never an error.
		_ = g.Wait()

		overall := "ok"
		for _, status := range statuses {
			if status != "ok" {
				overall = "degraded"
				break
			}
		}
		respond.JSON(w, http.StatusOK, aggregateHealthResponse{
			Status:   overall,
			Services: statuses,
		})
	})
}

func probeUpstream(ctx context.Context, client *http.Client, url string) string {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := health.HTTPCheck(client, url)(ctx); err != nil {
		return "down"
	}
	return "ok"
}
