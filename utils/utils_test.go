package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCalculateRSSIStats(t *testing.T) {
	tests := []struct {
		name    string
		values  []int
		wantAvg float64
		wantMin int
		wantMax int
	}{
		{"empty", nil, 0, 0, 0},
		{"single", []int{-55}, -55, -55, -55},
		{"three samples", []int{-70, -60, -80}, -70, -80, -60},
		{"fractional mean", []int{-60, -61}, -60.5, -61, -60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg, min, max := CalculateRSSIStats(tt.values)
			assert.InDelta(t, tt.wantAvg, avg, 1e-9)
			assert.Equal(t, tt.wantMin, min)
			assert.Equal(t, tt.wantMax, max)
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1000},
		{"abc", 1000},
		{"0", 1000},
		{"-5", 1000},
		{"50", 50},
		{"1000", 1000},
		{"5000", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLimit(tt.in, 1000))
		})
	}
}

func TestParseTimeParam(t *testing.T) {
	got, err := ParseTimeParam("start", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseTimeParam("start", "2026-03-14T15:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)))

	_, err = ParseTimeParam("end", "yesterday")
	require.Error(t, err)
	assert.Equal(t, "invalid end time format (use RFC3339)", err.Error())
}

func TestCoercion(t *testing.T) {
	assert.Equal(t, 7, ToInt(int32(7)))
	assert.Equal(t, 7, ToInt(int64(7)))
	assert.Equal(t, 7, ToInt(7.9))
	assert.Equal(t, 0, ToInt("7"))
	assert.Equal(t, 0, ToInt(nil))

	assert.Equal(t, int64(1<<40), ToInt64(int64(1<<40)))
	assert.Equal(t, int64(3), ToInt64(int32(3)))
	assert.Equal(t, int64(0), ToInt64(true))

	assert.True(t, ToBool(true))
	assert.False(t, ToBool("true"))
	assert.False(t, ToBool(nil))

	assert.Equal(t, "abc", ToString("abc"))
	assert.Equal(t, "", ToString(12))
}

func TestToIntSlice(t *testing.T) {
	assert.Equal(t, []int{-70, -60, -80}, ToIntSlice(bson.A{int32(-70), int64(-60), float64(-80)}))
	assert.Equal(t, []int{-50}, ToIntSlice([]interface{}{nil, "x", int32(-50)}))
	assert.Nil(t, ToIntSlice("not an array"))
	assert.Empty(t, ToIntSlice(bson.A{}))
}

func TestToTime(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	got, ok := ToTime(primitive.NewDateTimeFromTime(ts))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	got, ok = ToTime(ts)
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	_, ok = ToTime("2026-03-14")
	assert.False(t, ok)
}
