package shard

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/msmt-reprocessor/pkg/archive"
	"github.com/illmade-knight/msmt-reprocessor/pkg/types"
	"github.com/stretchr/testify/mock"
)

var testDay = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

var testArchive = archive.Archive{Key: "canned/2015-01-01/a.jsonl", Size: 10, Date: &testDay}

// recordingFinalizer closes shards and remembers them without publishing.
type recordingFinalizer struct {
	finalized []*Shard
}

func (r *recordingFinalizer) Finalize(_ context.Context, s *Shard) error {
	if err := s.close(); err != nil {
		return err
	}
	r.finalized = append(r.finalized, s)
	return nil
}

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, localPath, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("local shard missing at publish time: %w", err)
	}
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockIndexWriter is a mock implementation of the IndexWriter interface.
type MockIndexWriter struct {
	mock.Mock
}

func (m *MockIndexWriter) WriteIndex(ctx context.Context, rows []types.LookupRow, policy types.WritePolicy) error {
	args := m.Called(ctx, rows, policy)
	return args.Error(0)
}

func measurement(uid, reportID, cc, test string, docSize int) *types.Measurement {
	body := fmt.Sprintf(`{"measurement_uid":%q,"report_id":%q,"pad":%q}`, uid, reportID, strings.Repeat("x", docSize))
	return &types.Measurement{
		UID:       uid,
		ReportID:  reportID,
		TestName:  test,
		ProbeCC:   cc,
		StartTime: testDay,
		Document:  []byte(body),
	}
}
