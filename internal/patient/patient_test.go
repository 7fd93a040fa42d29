package patient

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "patients.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("AppendAndList", func(t *testing.T) { testAppendAndList(t, newStore(t)) })
			t.Run("Validation", func(t *testing.T) { testValidation(t, newStore(t)) })
			t.Run("Limit", func(t *testing.T) { testLimit(t, newStore(t)) })
		})
	}
}

func testAppendAndList(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

	entries := []Log{
		{PatientID: "p1", CreatedBy: "nurse-1", Timestamp: base, DataType: DataObservation,
			Content: map[string]any{"bp": "128/82", "hr": float64(88)}},
		{PatientID: "p1", CreatedBy: "nurse-1", Timestamp: base.Add(2 * time.Hour), DataType: DataSymptomReport,
			Content: map[string]any{"complaint": "nausea"}, Source: "bedside"},
		{PatientID: "p2", CreatedBy: "nurse-2", Timestamp: base.Add(time.Hour), DataType: DataObservation},
	}
	for _, e := range entries {
		got, err := s.Append(ctx, e)
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.CreatedAt.IsZero(), "CreatedAt not set")
	}

	logs, err := s.List(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, DataSymptomReport, logs[0].DataType, "newest first")
	assert.Equal(t, "bedside", logs[0].Source)
	assert.Equal(t, DefaultSource, logs[1].Source)
	assert.Equal(t, "128/82", logs[1].Content["bp"])
	assert.Equal(t, float64(88), logs[1].Content["hr"])
	assert.True(t, logs[1].Timestamp.Equal(base), "timestamp = %v", logs[1].Timestamp)

	none, err := s.List(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testValidation(t *testing.T, s Store) {
	now := time.Now()
	tests := []struct {
		name  string
		entry Log
	}{
		{"missing patient", Log{Timestamp: now, DataType: DataObservation}},
		{"bad type", Log{PatientID: "p", Timestamp: now, DataType: "vibes"}},
		{"missing timestamp", Log{PatientID: "p", DataType: DataObservation}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(context.Background(), tt.entry)
			assert.ErrorIs(t, err, ErrInvalidLog)
		})
	}
}

func testLimit(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		_, err := s.Append(ctx, Log{
			PatientID: "p",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			DataType:  DataObservation,
			Content:   map[string]any{"n": fmt.Sprint(i)},
		})
		require.NoError(t, err)
	}

	tests := []struct {
		limit, want int
	}{
		{5, 5},
		{0, DefaultListLimit},
		{1000, MaxListLimit},
	}
	for _, tt := range tests {
		logs, err := s.List(ctx, "p", tt.limit)
		require.NoError(t, err)
		assert.Len(t, logs, tt.want, "List(%d)", tt.limit)
		assert.Equal(t, "119", logs[0].Content["n"], "List(%d) newest", tt.limit)
	}
}

func TestLogSummarizer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sum := NewLogSummarizer(store, 5)

	got, err := sum.Summary(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.Append(ctx, Log{
		PatientID: "p1",
		Timestamp: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
		DataType:  DataObservation,
		Content:   map[string]any{"spo2": "94%", "bp": "110/70"},
	})
	require.NoError(t, err)

	got, err = sum.Summary(ctx, "p1")
	require.NoError(t, err)
	for _, want := range []string{"patient p1", "[observation]", "bp: 110/70; spo2: 94%", "2026-05-04 09:30 UTC"} {
		assert.Contains(t, got, want)
	}

	got, _ = sum.Summary(ctx, "")
	assert.Empty(t, got, "blank patient id should summarize to nothing")
}

func TestDataTypeValid(t *testing.T) {
	for _, d := range DataTypes {
		assert.True(t, d.Valid(), "%s should be valid", d)
	}
	assert.False(t, DataType("lab_result").Valid())
}
