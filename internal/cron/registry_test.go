package cron

import "testing"

func TestRegistryStoresJobsInOrder(t *testing.T) {
	jobA := &testJob{name: "a"}
	jobB := &testJob{name: "b"}
	registry := NewRegistry(jobA, nil)
	registry.Register(nil)
	registry.Register(jobB)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}
