package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()

	if poolWritesTotal == nil || jobsRepairedTotal == nil || jobRunsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePoolWrites(t *testing.T) {
	Init()

	before := testutil.ToFloat64(poolWritesTotal.WithLabelValues("demo_proj", "discovered"))
	ObservePoolWrites("demo_proj", "discovered", 3)
	ObservePoolWrites("demo_proj", "discovered", 0)
	ObservePoolWrites("demo_proj", "discovered", -1)
	after := testutil.ToFloat64(poolWritesTotal.WithLabelValues("demo_proj", "discovered"))

	if got := after - before; got != 3 {
		t.Errorf("expected pool writes counter to grow by 3, grew by %f", got)
	}
}

func TestObserveJobsRepaired(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsRepairedTotal.WithLabelValues("demo_proj"))
	ObserveJobsRepaired("demo_proj", 2)
	ObserveJobsRepaired("demo_proj", 0)
	after := testutil.ToFloat64(jobsRepairedTotal.WithLabelValues("demo_proj"))

	if got := after - before; got != 2 {
		t.Errorf("expected repair counter to grow by 2, grew by %f", got)
	}
}
