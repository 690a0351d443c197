// Package recommender implements the Recommender Bridge (C11): a periodic
// call out to the external clustering/scheduling service, translating
// usage vectors into upward AIRecommendations.
package recommender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/usage"
)

const tickInterval = 1 * time.Minute

// Uplink is the narrow cloud-send interface the bridge needs.
type Uplink interface {
	SendRecommendations(ctx context.Context, clusters []cloudmsg.Cluster, plotData []cloudmsg.PlotPoint) error
}

type clusteringRequest struct {
	Vectors []usage.Vector `json:"vectors"`
}

type clusteringResponse struct {
	Clusters []clusterDTO         `json:"clusters"`
	PlotData []cloudmsg.PlotPoint `json:"plot_data"`
}

type clusterDTO struct {
	ID    string   `json:"id"`
	UUIDs []string `json:"uuids"`
}

type idleWindow struct {
	UUID            string `json:"uuid"`
	IdleDurationSec int64  `json:"idle_duration_secs"`
}

type schedulingRequest struct {
	Clusters    []clusterDTO `json:"clusters"`
	IdleWindows []idleWindow `json:"idle_windows"`
}

type schedulingResponse struct {
	Clusters []cloudmsg.Cluster `json:"clusters"`
}

// Bridge drives the 1-minute clustering/scheduling tick.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
	usageAgg   *usage.Aggregator
	uplink     Uplink
	logger     *slog.Logger
	failures   prometheus.Counter
}

// NewBridge creates a Bridge. baseURL is the recommender's HTTP root.
func NewBridge(baseURL string, usageAgg *usage.Aggregator, uplink Uplink, logger *slog.Logger, failures prometheus.Counter) *Bridge {
	return &Bridge{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		usageAgg:   usageAgg,
		uplink:     uplink,
		logger:     logger,
		failures:   failures,
	}
}

// Run drives the 1-minute tick until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Bridge) tick(ctx context.Context) {
	vectors := b.usageAgg.ComputeVectors()

	clustering, err := b.callClustering(ctx, vectors)
	if err != nil {
		b.logger.Warn("recommender clustering call failed, skipping tick", "error", err)
		b.countFailure()
		return
	}

	scheduling, err := b.callScheduling(ctx, clustering.Clusters, vectors)
	if err != nil {
		b.logger.Warn("recommender scheduling call failed, skipping tick", "error", err)
		b.countFailure()
		return
	}

	if err := b.uplink.SendRecommendations(ctx, scheduling.Clusters, clustering.PlotData); err != nil {
		b.logger.Warn("emitting AI recommendations failed", "error", err)
	}
}

func (b *Bridge) countFailure() {
	if b.failures != nil {
		b.failures.Inc()
	}
}

func (b *Bridge) callClustering(ctx context.Context, vectors []usage.Vector) (clusteringResponse, error) {
	var out clusteringResponse
	err := b.post(ctx, "/ai/clustering", clusteringRequest{Vectors: vectors}, &out)
	return out, err
}

func (b *Bridge) callScheduling(ctx context.Context, clusters []clusterDTO, vectors []usage.Vector) (schedulingResponse, error) {
	windows := make([]idleWindow, 0, len(vectors))
	for _, v := range vectors {
		pred := b.usageAgg.PredictNextIdle(v.UUID)
		if pred.NextIdleTime == nil {
			continue
		}
		windows = append(windows, idleWindow{UUID: v.UUID, IdleDurationSec: int64(pred.IdleDuration.Seconds())})
	}

	var out schedulingResponse
	err := b.post(ctx, "/ai/scheduling", schedulingRequest{Clusters: clusters, IdleWindows: windows}, &out)
	return out, err
}

func (b *Bridge) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
