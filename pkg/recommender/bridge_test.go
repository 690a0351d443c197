package recommender

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetedge/upflux-gateway/pkg/cloudmsg"
	"github.com/fleetedge/upflux-gateway/pkg/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUplink struct {
	clusters []cloudmsg.Cluster
	plotData []cloudmsg.PlotPoint
	calls    int
}

func (f *fakeUplink) SendRecommendations(_ context.Context, clusters []cloudmsg.Cluster, plotData []cloudmsg.PlotPoint) error {
	f.clusters = clusters
	f.plotData = plotData
	f.calls++
	return nil
}

func TestTickCallsClusteringThenSchedulingThenUplink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ai/clustering", func(w http.ResponseWriter, r *http.Request) {
		var req clusteringRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding clustering request: %v", err)
		}
		if len(req.Vectors) != 1 {
			t.Fatalf("vectors = %d, want 1", len(req.Vectors))
		}
		_ = json.NewEncoder(w).Encode(clusteringResponse{
			Clusters: []clusterDTO{{ID: "c1", UUIDs: []string{"dev-1"}}},
			PlotData: []cloudmsg.PlotPoint{{UUID: "dev-1", X: 1, Y: 2}},
		})
	})
	mux.HandleFunc("/ai/scheduling", func(w http.ResponseWriter, r *http.Request) {
		var req schedulingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding scheduling request: %v", err)
		}
		if len(req.Clusters) != 1 || req.Clusters[0].ID != "c1" {
			t.Fatalf("clusters = %v, want [c1]", req.Clusters)
		}
		_ = json.NewEncoder(w).Encode(schedulingResponse{
			Clusters: []cloudmsg.Cluster{{ID: "c1", UUIDs: []string{"dev-1"}}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	agg := usage.NewAggregator(nil)
	agg.Record("dev-1", 10, 20, 30, 40)

	up := &fakeUplink{}
	b := NewBridge(srv.URL, agg, up, discardLogger(), nil)

	b.tick(context.Background())

	if up.calls != 1 {
		t.Fatalf("uplink calls = %d, want 1", up.calls)
	}
	if len(up.clusters) != 1 || up.clusters[0].ID != "c1" {
		t.Fatalf("clusters = %v, want [c1]", up.clusters)
	}
	if len(up.plotData) != 1 || up.plotData[0].UUID != "dev-1" {
		t.Fatalf("plot data = %v, want [dev-1]", up.plotData)
	}
}

func TestTickSkipsUplinkWhenClusteringFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	agg := usage.NewAggregator(nil)
	up := &fakeUplink{}
	b := NewBridge(srv.URL, agg, up, discardLogger(), nil)

	b.tick(context.Background())

	if up.calls != 0 {
		t.Fatalf("uplink calls = %d, want 0 on clustering failure", up.calls)
	}
}

func TestCallSchedulingOmitsDevicesWithoutAnIdleWindow(t *testing.T) {
	var gotBody schedulingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(schedulingResponse{})
	}))
	defer srv.Close()

	agg := usage.NewAggregator(nil)
	agg.Record("dev-1", 1, 1, 1, 1)

	b := NewBridge(srv.URL, agg, &fakeUplink{}, discardLogger(), nil)
	vectors := agg.ComputeVectors()

	if _, err := b.callScheduling(context.Background(), nil, vectors); err != nil {
		t.Fatalf("callScheduling: %v", err)
	}
	if len(gotBody.IdleWindows) != 0 {
		t.Fatalf("idle windows = %v, want none (single sample has no gap yet)", gotBody.IdleWindows)
	}
}
