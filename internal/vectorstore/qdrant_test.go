package vectorstore

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	cfg := QdrantConfig{Dimension: 384}
	cfg.ApplyDefaults()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "docqa_chunks", cfg.Collection)
	assert.NoError(t, cfg.Validate())

	cfg.Dimension = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestPointID_Stable(t *testing.T) {
	assert.Equal(t, PointID("doc:00001"), PointID("doc:00001"))
	assert.NotEqual(t, PointID("doc:00001"), PointID("doc:00002"))
}

func TestPayloadRoundTrip(t *testing.T) {
	r := rec("doc:00003", "doc", 3, 1, 2)
	r.Metadata[MetaSection] = "Termination"

	payload := toPayload(r)
	payload["score_hint"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: 1}}

	id, md := fromPayload(payload)
	assert.Equal(t, "doc:00003", id)
	assert.Equal(t, r.Metadata, md)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.False(t, IsTransientError(nil))
}

func TestSortResults(t *testing.T) {
	rs := []Result{
		{ChunkID: "x:00002", Similarity: 0.5, Metadata: map[string]string{MetaOrdinal: "2"}},
		{ChunkID: "y:00001", Similarity: 0.9, Metadata: map[string]string{MetaOrdinal: "1"}},
		{ChunkID: "z:00001", Similarity: 0.5, Metadata: map[string]string{MetaOrdinal: "1"}},
		{ChunkID: "a:00001", Similarity: 0.5, Metadata: map[string]string{MetaOrdinal: "1"}},
		{ChunkID: "nometa", Similarity: 0.5},
	}
	sortResults(rs)
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ChunkID
	}
	assert.Equal(t, []string{"y:00001", "a:00001", "z:00001", "x:00002", "nometa"}, ids)
}
