package sampler_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/loadlogger/internal/board"
	"codeberg.org/mutker/loadlogger/internal/buffer"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"codeberg.org/mutker/loadlogger/internal/record"
	"codeberg.org/mutker/loadlogger/internal/sampler"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

type fakeLoadCell struct {
	value float32
	times []int
}

func (f *fakeLoadCell) Units(_ context.Context, times int) (float32, error) {
	f.times = append(f.times, times)
	return f.value, nil
}

func constant(v float32) sampler.Source {
	return sampler.SourceFunc(func(context.Context) (float32, error) { return v, nil })
}

func TestTaskTimestampsFollowClock(t *testing.T) {
	mock := clock.NewMock()
	buf := buffer.New(16)
	task := &sampler.Task{
		Name:   "loadcell",
		Sensor: record.LoadCell,
		Period: 12 * time.Millisecond,
		Source: constant(2.5),
		Buffer: buf,
		Clock:  mock,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := mock.Now()
	go func() { done <- task.Run(ctx, start) }()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return buf.Len() == i }, waitFor, time.Millisecond)
		mock.Add(12 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return buf.Len() == 4 }, waitFor, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	got := buf.DrainAndReset()
	for i, r := range got {
		assert.Equal(t, record.LoadCell, r.ID)
		assert.Equal(t, uint32(12*i), r.TimestampMs)
		assert.InDelta(t, 2.5, r.Value, 0)
	}
	assert.Equal(t, uint64(4), task.Stats().Samples)
}

func TestTaskCountsDrops(t *testing.T) {
	mock := clock.NewMock()
	buf := buffer.New(1)
	task := &sampler.Task{
		Name:   "pressure",
		Sensor: record.Pressure,
		Period: 20 * time.Millisecond,
		Source: constant(1),
		Buffer: buf,
		Clock:  mock,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx, mock.Now()) }()

	require.Eventually(t, func() bool { return task.Stats().Samples == 1 }, waitFor, time.Millisecond)
	mock.Add(20 * time.Millisecond)
	require.Eventually(t, func() bool { return task.Stats().Samples == 2 }, waitFor, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, uint64(1), task.Stats().Dropped)
	assert.Equal(t, uint64(1), buf.Dropped())
}

func TestTaskErrorsAreRateLimited(t *testing.T) {
	var out bytes.Buffer
	log := logger.FromZerolog(zerolog.New(&out))

	buf := buffer.New(8)
	task := &sampler.Task{
		Name:   "loadcell",
		Sensor: record.LoadCell,
		Period: 50 * time.Microsecond,
		Source: sampler.SourceFunc(func(context.Context) (float32, error) {
			return 0, fmt.Errorf("not ready")
		}),
		Buffer: buf,
		Logger: log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx, time.Now()) }()

	require.Eventually(t, func() bool { return task.Stats().Errors >= 150 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	errs := task.Stats().Errors
	logged := strings.Count(out.String(), "Sensor read failed")
	assert.Equal(t, int((errs-1)/100+1), logged)
	assert.Zero(t, buf.Len())
	assert.Zero(t, task.Stats().Samples)
}

func TestLoadCellSource(t *testing.T) {
	cell := &fakeLoadCell{value: 3}

	v, err := sampler.LoadCellSource{Driver: cell}.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3, v, 0)

	_, err = sampler.LoadCellSource{Driver: cell, Times: 5}.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, cell.times)
}

func TestAnalogSource(t *testing.T) {
	tests := []struct {
		name      string
		raw       int32
		fullScale float32
		want      float32
	}{
		{"zero", 0, sampler.DefaultFullScale, 0},
		{"full", 4095, sampler.DefaultFullScale, 4095},
		{"transducer mode", 4095, 0, 1},
		{"transducer mode quarter", 1023, 0, float32(1023) / 4095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adc := board.NewSimADC("A0", 12, func() int32 { return tt.raw })
			v, err := sampler.AnalogSource{Pin: adc, FullScale: tt.fullScale}.Sample(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 1e-6)
		})
	}
}

func TestAnalogSourceTruncates(t *testing.T) {
	// 100/4095 * 1000 = 24.42
	adc := board.NewSimADC("A0", 12, func() int32 { return 100 })
	v, err := sampler.AnalogSource{Pin: adc, FullScale: 1000}.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 24, v, 0)
}

func TestAnalogSourceReadError(t *testing.T) {
	adc := board.NewSimADC("A0", 12, nil)
	adc.SetError(fmt.Errorf("i/o error"))

	_, err := sampler.AnalogSource{Pin: adc, FullScale: 4095}.Sample(context.Background())
	assert.Error(t, err)
}

func TestGroup(t *testing.T) {
	mock := clock.NewMock()
	buf := buffer.New(16)

	g := &sampler.Group{
		Clock: mock,
		Tasks: []*sampler.Task{
			{Name: "a", Sensor: record.LoadCell, Period: 12 * time.Millisecond, Source: constant(1), Buffer: buf},
			{Name: "b", Sensor: record.Pressure, Period: 20 * time.Millisecond, Source: constant(2), Buffer: buf},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool { return buf.Len() == 2 }, waitFor, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ids := map[record.SensorID]bool{}
	for _, r := range buf.DrainAndReset() {
		ids[r.ID] = true
		assert.Zero(t, r.TimestampMs)
	}
	assert.True(t, ids[record.LoadCell])
	assert.True(t, ids[record.Pressure])
}

func TestGroupStopsOnFuncError(t *testing.T) {
	buf := buffer.New(16)
	boom := fmt.Errorf("boom")

	g := &sampler.Group{
		Tasks: []*sampler.Task{
			{Name: "a", Sensor: record.LoadCell, Period: time.Millisecond, Source: constant(1), Buffer: buf},
		},
		Funcs: []func(context.Context) error{
			func(context.Context) error { return boom },
		},
	}

	assert.ErrorIs(t, g.Run(context.Background()), boom)
}
