package store

import (
	"path/filepath"
	"testing"

	"github.com/daviddao/delaynet/pkg/model"
)

// TestStoreImplementsInterface drives a full run lifecycle through the
// interface type.
func TestStoreImplementsInterface(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	var iface StoreInterface = s

	r := &model.Run{Duration: 0.1, Dt: 1e-4}
	if err := iface.CreateRun(r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	id, err := iface.ResolveRunID(r.ID[:8])
	if err != nil || id != r.ID {
		t.Fatalf("ResolveRunID: got %q, %v", id, err)
	}
	if err := iface.InsertSpikes(r.ID, []model.SpikeRecord{{Group: "g", Index: 0, Timestep: 3}}); err != nil {
		t.Fatalf("InsertSpikes: %v", err)
	}
	if err := iface.InsertTraces(r.ID, []model.TraceRecord{{Group: "g", Index: 0, V: -0.065}}); err != nil {
		t.Fatalf("InsertTraces: %v", err)
	}
	if err := iface.InsertProfile(r.ID, []model.ProfileEntry{{CodeObject: "g_thresholder", Clock: "defaultclock", Calls: 1}}); err != nil {
		t.Fatalf("InsertProfile: %v", err)
	}
	r.Status, r.Completed, r.Spikes = model.RunOK, 1, iface.CountSpikes(r.ID)
	if err := iface.FinishRun(r); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := iface.GetRun(r.ID)
	if err != nil || got.Status != model.RunOK || got.Spikes != 1 {
		t.Fatalf("GetRun: got %+v, %v", got, err)
	}
	if latest, err := iface.LatestRun(); err != nil || latest.ID != r.ID {
		t.Fatalf("LatestRun: got %+v, %v", latest, err)
	}
	if runs, err := iface.ListRuns(10); err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns: got %d, %v", len(runs), err)
	}
	if spikes, err := iface.ListSpikes(r.ID, 0); err != nil || len(spikes) != 1 {
		t.Fatalf("ListSpikes: got %d, %v", len(spikes), err)
	}
	if traces, err := iface.ListTraces(r.ID, 0); err != nil || len(traces) != 1 {
		t.Fatalf("ListTraces: got %d, %v", len(traces), err)
	}
	if prof, err := iface.ListProfile(r.ID); err != nil || len(prof) != 1 {
		t.Fatalf("ListProfile: got %d, %v", len(prof), err)
	}
}
