package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSiteMonitorChecksReachableOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	mon := NewSiteMonitor(time.Hour, 2*time.Second)
	mon.SetTargets([]SiteTarget{{MirrorRoot: "example.com", SourceURL: origin.URL}})
	mon.checkAll()

	health := mon.GetAll()
	h, ok := health["example.com"]
	if !ok {
		t.Fatal("expected health entry for example.com")
	}
	if h.Status != SiteStatusHealthy {
		t.Errorf("expected healthy status, got %s", h.Status)
	}
	if h.CheckCount != 1 || h.SuccessCount != 1 {
		t.Errorf("expected check/success counts of 1, got %d/%d", h.CheckCount, h.SuccessCount)
	}
}

func TestSiteMonitorChecksUnreachableOrigin(t *testing.T) {
	mon := NewSiteMonitor(time.Hour, 500*time.Millisecond)
	mon.SetTargets([]SiteTarget{{MirrorRoot: "down.example", SourceURL: "http://127.0.0.1:1"}})
	mon.checkAll()

	h := mon.GetAll()["down.example"]
	if h == nil {
		t.Fatal("expected health entry for down.example")
	}
	if h.Status != SiteStatusUnhealthy {
		t.Errorf("expected unhealthy status, got %s", h.Status)
	}
	if h.LastError == "" {
		t.Error("expected LastError to be populated")
	}
}

func TestSiteMonitorSetTargetsPrunesRemoved(t *testing.T) {
	mon := NewSiteMonitor(time.Hour, time.Second)
	mon.SetTargets([]SiteTarget{{MirrorRoot: "a.example", SourceURL: "http://127.0.0.1:1"}})
	mon.SetTargets([]SiteTarget{{MirrorRoot: "b.example", SourceURL: "http://127.0.0.1:1"}})

	health := mon.GetAll()
	if _, ok := health["a.example"]; ok {
		t.Error("expected a.example to be pruned after SetTargets no longer includes it")
	}
	if _, ok := health["b.example"]; !ok {
		t.Error("expected b.example to be present")
	}
}

func TestSiteMonitorStartStop(t *testing.T) {
	mon := NewSiteMonitor(10*time.Millisecond, time.Second)
	mon.SetTargets([]SiteTarget{{MirrorRoot: "x.example", SourceURL: "http://127.0.0.1:1"}})
	mon.Start()
	time.Sleep(30 * time.Millisecond)
	mon.Stop()

	h := mon.GetAll()["x.example"]
	if h == nil || h.CheckCount == 0 {
		t.Error("expected at least one check to have run before Stop")
	}
}
