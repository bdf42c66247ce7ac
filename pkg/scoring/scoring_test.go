package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, msm *types.Measurement) (Scores, error) {
	args := m.Called(ctx, msm)
	s, _ := args.Get(0).(Scores)
	return s, args.Error(1)
}

type MockAnalysisWriter struct {
	mock.Mock
}

func (m *MockAnalysisWriter) WriteAnalysis(ctx context.Context, rows []types.AnalysisRow, policy types.WritePolicy) error {
	args := m.Called(ctx, rows, policy)
	return args.Error(0)
}

func testMeasurement() *types.Measurement {
	return &types.Measurement{
		UID:       "u1",
		ReportID:  "r1",
		TestName:  "web_connectivity",
		ProbeCC:   "IT",
		ProbeASN:  "AS123",
		StartTime: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		Document:  []byte(`{"report_id":"r1"}`),
	}
}

// --- Tests ---

func TestDerive(t *testing.T) {
	m := testMeasurement()

	row := Derive(m, Scores{})
	assert.False(t, row.Anomaly)
	assert.False(t, row.Failure)
	assert.False(t, row.Confirmed)
	assert.Equal(t, "unknown", row.SoftwareName)
	assert.Equal(t, "unknown", row.SoftwareVersion)
	assert.Equal(t, "unset", row.Platform)

	row = Derive(m, Scores{"blocking_general": 0.9, "accuracy": 0.2, "confirmed": true})
	assert.True(t, row.Anomaly)
	assert.True(t, row.Failure)
	assert.True(t, row.Confirmed)

	row = Derive(m, Scores{"blocking_general": 0.5, "accuracy": 0.5})
	assert.False(t, row.Anomaly)
	assert.False(t, row.Failure)

	require.NotNil(t, row.MeasurementStartTime)
	assert.Equal(t, m.StartTime, *row.MeasurementStartTime)

	m.SoftwareName, m.Platform = "ooniprobe-android", "android"
	row = Derive(m, Scores{})
	assert.Equal(t, "ooniprobe-android", row.SoftwareName)
	assert.Equal(t, "android", row.Platform)

	m.StartTime = time.Time{}
	assert.Nil(t, Derive(m, Scores{}).MeasurementStartTime)
}

func TestAdapter_Policies(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("Skip never scores", func(t *testing.T) {
		scorer := new(MockScorer)
		writer := new(MockAnalysisWriter)
		a, err := NewAdapter(scorer, writer, AdapterConfig{Policy: types.PolicySkip}, logger)
		require.NoError(t, err)
		require.NoError(t, a.Process(ctx, testMeasurement()))
		scorer.AssertNotCalled(t, "Score", mock.Anything, mock.Anything)
		writer.AssertNotCalled(t, "WriteAnalysis", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Merge writes derived row", func(t *testing.T) {
		scorer := new(MockScorer)
		writer := new(MockAnalysisWriter)
		m := testMeasurement()
		scorer.On("Score", mock.Anything, m).Return(Scores{"blocking_general": 1.0}, nil).Once()
		writer.On("WriteAnalysis", mock.Anything, mock.MatchedBy(func(rows []types.AnalysisRow) bool {
			return len(rows) == 1 && rows[0].MeasurementUID == "u1" && rows[0].Anomaly
		}), types.PolicyMerge).Return(nil).Once()

		a, err := NewAdapter(scorer, writer, AdapterConfig{Policy: types.PolicyMerge}, logger)
		require.NoError(t, err)
		require.NoError(t, a.Process(ctx, m))
		writer.AssertNotCalled(t, "WriteAnalysis", mock.Anything, mock.Anything, mock.Anything)
		require.NoError(t, a.Flush(ctx))
		scorer.AssertExpectations(t)
		writer.AssertExpectations(t)
	})

	t.Run("Scorer error is returned", func(t *testing.T) {
		scorer := new(MockScorer)
		writer := new(MockAnalysisWriter)
		scorer.On("Score", mock.Anything, mock.Anything).Return(nil, errors.New("scorer down")).Once()

		a, err := NewAdapter(scorer, writer, AdapterConfig{Policy: types.PolicyInsert}, logger)
		require.NoError(t, err)
		assert.Error(t, a.Process(ctx, testMeasurement()))
		writer.AssertNotCalled(t, "WriteAnalysis", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rows are written in batches", func(t *testing.T) {
		const n, batch = 7, 3
		scorer := new(MockScorer)
		writer := new(MockAnalysisWriter)
		scorer.On("Score", mock.Anything, mock.Anything).Return(Scores{}, nil)
		var written []int
		writer.On("WriteAnalysis", mock.Anything, mock.Anything, types.PolicyInsert).
			Run(func(args mock.Arguments) {
				written = append(written, len(args.Get(1).([]types.AnalysisRow)))
			}).Return(nil)

		a, err := NewAdapter(scorer, writer, AdapterConfig{Policy: types.PolicyInsert, BatchSize: batch}, logger)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			m := testMeasurement()
			m.UID = fmt.Sprintf("u%d", i)
			require.NoError(t, a.Process(ctx, m))
		}
		assert.Equal(t, []int{3, 3}, written)

		require.NoError(t, a.Flush(ctx))
		require.NoError(t, a.Flush(ctx))
		assert.Equal(t, []int{3, 3, 1}, written)
		writer.AssertNumberOfCalls(t, "WriteAnalysis", (n+batch-1)/batch)
	})

	t.Run("Failed flush keeps rows", func(t *testing.T) {
		scorer := new(MockScorer)
		writer := new(MockAnalysisWriter)
		scorer.On("Score", mock.Anything, mock.Anything).Return(Scores{}, nil)
		writer.On("WriteAnalysis", mock.Anything, mock.Anything, types.PolicyInsert).Return(errors.New("db down")).Once()
		writer.On("WriteAnalysis", mock.Anything, mock.MatchedBy(func(rows []types.AnalysisRow) bool {
			return len(rows) == 1
		}), types.PolicyInsert).Return(nil).Once()

		a, err := NewAdapter(scorer, writer, AdapterConfig{Policy: types.PolicyInsert}, logger)
		require.NoError(t, err)
		require.NoError(t, a.Process(ctx, testMeasurement()))
		assert.Error(t, a.Flush(ctx))
		require.NoError(t, a.Flush(ctx))
		writer.AssertExpectations(t)
	})

	t.Run("Negative batch size is rejected", func(t *testing.T) {
		_, err := NewAdapter(NopScorer{}, new(MockAnalysisWriter), AdapterConfig{Policy: types.PolicyInsert, BatchSize: -1}, logger)
		assert.Error(t, err)
	})

	t.Run("Writes require collaborators", func(t *testing.T) {
		_, err := NewAdapter(nil, nil, AdapterConfig{Policy: types.PolicyInsert}, logger)
		assert.Error(t, err)
	})
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"report_id":"r1"}` {
			http.Error(w, "unexpected body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"blocking_general": 0.8, "accuracy": 1.0})
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	scores, err := s.Score(context.Background(), testMeasurement())
	require.NoError(t, err)
	assert.Equal(t, 0.8, scores["blocking_general"])
	assert.True(t, Derive(testMeasurement(), scores).Anomaly)
}

func TestHTTPScorer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Score(context.Background(), testMeasurement())
	assert.Error(t, err)
}
