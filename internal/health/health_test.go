package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func up() Probe { return ProbeFunc(func(context.Context) error { return nil }) }

func TestCheck_BothUp(t *testing.T) {
	r := NewChecker(up(), up(), time.Second, nil).Check(context.Background())

	assert.Equal(t, Report{Status: StatusOK, Postgres: Up, ClickHouse: Up}, r)
	assert.True(t, r.Ready())
}

func TestCheck_DegradedWhenPostgresDown(t *testing.T) {
	pg := ProbeFunc(func(context.Context) error { return errors.New("connection refused") })

	r := NewChecker(pg, up(), time.Second, nil).Check(context.Background())

	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, Down, r.Postgres)
	assert.Equal(t, Up, r.ClickHouse)
	assert.False(t, r.Ready())
}

func TestCheck_SlowProbeBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	// ignores its context entirely
	hung := ProbeFunc(func(context.Context) error {
		<-release
		return nil
	})

	started := time.Now()
	r := NewChecker(up(), hung, 50*time.Millisecond, nil).Check(context.Background())

	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, Up, r.Postgres)
	assert.Equal(t, Down, r.ClickHouse)
	assert.Equal(t, StatusDegraded, r.Status)
}

func TestCheck_NilProbeIsDown(t *testing.T) {
	r := NewChecker(nil, up(), time.Second, nil).Check(context.Background())
	assert.Equal(t, Down, r.Postgres)
}

func TestCheck_PanickingPingIsDown(t *testing.T) {
	boom := ProbeFunc(func(context.Context) error { panic("nil pool") })

	var r Report
	assert.NotPanics(t, func() {
		r = NewChecker(boom, up(), time.Second, nil).Check(context.Background())
	})
	assert.Equal(t, Down, r.Postgres)
	assert.Equal(t, Up, r.ClickHouse)
	assert.Equal(t, StatusDegraded, r.Status)
}
