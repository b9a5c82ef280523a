package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/testutil"
)

func TestCombined_MergesBothHalves(t *testing.T) {
	host := &testutil.StaticMetricsSource{Value: core.Sample{
		Timestamp:     time.Now(),
		CPUPercent:    42.5,
		MemoryPercent: 61.0,
	}}
	db := &testutil.StaticMetricsSource{Value: core.Sample{
		Timestamp:            time.Now(),
		ConnectionCount:      120,
		BlockingSessionCount: 3,
	}}

	sample, err := NewCombined(host, db).Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if sample.CPUPercent != 42.5 || sample.MemoryPercent != 61.0 {
		t.Errorf("host half lost: %+v", sample)
	}
	if sample.ConnectionCount != 120 || sample.BlockingSessionCount != 3 {
		t.Errorf("database half lost: %+v", sample)
	}
	if sample.Timestamp.IsZero() {
		t.Error("merged sample has zero timestamp")
	}
}

func TestCombined_NilDatabaseIsHostOnly(t *testing.T) {
	host := &testutil.StaticMetricsSource{Value: core.Sample{
		Timestamp:  time.Now(),
		CPUPercent: 10,
	}}

	sample, err := NewCombined(host, nil).Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if sample.CPUPercent != 10 || sample.ConnectionCount != 0 {
		t.Errorf("sample = %+v", sample)
	}
}

func TestCombined_EitherHalfFailingFailsTheSample(t *testing.T) {
	good := &testutil.StaticMetricsSource{Value: core.Sample{Timestamp: time.Now()}}
	bad := &testutil.StaticMetricsSource{Err: errors.New("unreachable")}

	if _, err := NewCombined(bad, good).Sample(context.Background()); err == nil {
		t.Error("host failure should fail the sample")
	}
	if _, err := NewCombined(good, bad).Sample(context.Background()); err == nil {
		t.Error("database failure should fail the sample")
	}
}
