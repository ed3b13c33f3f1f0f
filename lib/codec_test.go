package classvault

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/sha3"
)

func testArtifact() *BackupArtifact {
	oid, _ := primitive.ObjectIDFromHex("66c5c7aa8d2e4f0001a3b001")

	return &BackupArtifact{
		SchemaVersion: CurrentSchemaVersion,
		GeneratedAt:   time.Date(2026, 8, 21, 9, 30, 45, 0, time.UTC),
		RecordSets: map[string][]Document{
			"users": {
				{
					"_id":          oid,
					"email":        "ada@studistack.example",
					"passwordHash": "$2a$10$abcdefghijklmnopqrstuv",
					"loginCount":   int32(7),
					"storageUsed":  int64(5368709120),
					"active":       true,
					"lastSeen":     primitive.DateTime(1755768645000),
					"profile": Document{
						"displayName": "Ada",
						"locale":      "fr-CA",
					},
					"roles": primitive.A{"student", "assistant"},
				},
			},
			"courses": {
				{"_id": int32(1), "title": "calculus", "credits": 3.5},
			},
			"sessions": {},
		},
	}
}

func TestEncodeArtifact_CanonicalText(t *testing.T) {
	plan, err := EncodeArtifact(testArtifact(), 0)
	require.NoError(t, err)

	assert.False(t, plan.Compressed)
	assert.Equal(t, contentTypeJSON, plan.ContentType)
	assert.Equal(t, int64(len(plan.Encoded)), plan.SizeBytes)
	assert.Equal(t, fmt.Sprintf("%x", sha3.Sum256(plan.Encoded)), plan.Checksum)

	// canonical extended JSON keeps integer widths explicit
	assert.Contains(t, string(plan.Encoded), `"$numberInt"`)
	assert.Contains(t, string(plan.Encoded), `"$numberLong"`)
	assert.Contains(t, string(plan.Encoded), `"$oid"`)
}

func TestEncodeDecodeArtifact_RoundTrip(t *testing.T) {
	artifact := testArtifact()

	plan, err := EncodeArtifact(artifact, 0)
	require.NoError(t, err)

	out, err := DecodeArtifact(plan.Encoded)
	require.NoError(t, err)

	assert.Equal(t, artifact.SchemaVersion, out.SchemaVersion)
	require.True(t, artifact.GeneratedAt.Equal(out.GeneratedAt))
	require.Equal(t, artifact.RecordSets["users"], out.RecordSets["users"])
	require.Equal(t, artifact.RecordSets["courses"], out.RecordSets["courses"])
	require.Equal(t, []Document{}, out.RecordSets["sessions"])
}

func TestEncodeArtifact_CompressionThreshold(t *testing.T) {
	artifact := testArtifact()

	probe, err := EncodeArtifact(artifact, 0)
	require.NoError(t, err)
	rawSize := probe.SizeBytes

	// one byte over the threshold compresses
	plan, err := EncodeArtifact(artifact, rawSize-1)
	require.NoError(t, err)
	assert.True(t, plan.Compressed)
	assert.Equal(t, contentTypeGzip, plan.ContentType)
	assert.True(t, plan.SizeBytes < rawSize)
	require.True(t, len(plan.Encoded) > 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, plan.Encoded[:2])
	assert.Equal(t, fmt.Sprintf("%x", sha3.Sum256(plan.Encoded)), plan.Checksum)

	// exactly at the threshold the artifact stays plain text
	plan, err = EncodeArtifact(artifact, rawSize)
	require.NoError(t, err)
	assert.False(t, plan.Compressed)

	// a non-positive threshold disables compression outright
	plan, err = EncodeArtifact(artifact, -1)
	require.NoError(t, err)
	assert.False(t, plan.Compressed)
}

func TestDecodeArtifact_TransparentDecompression(t *testing.T) {
	artifact := testArtifact()

	plan, err := EncodeArtifact(artifact, 1)
	require.NoError(t, err)
	require.True(t, plan.Compressed)

	out, err := DecodeArtifact(plan.Encoded)
	require.NoError(t, err)
	require.Equal(t, artifact.RecordSets["users"], out.RecordSets["users"])
}

func TestDecodeArtifact_RejectsDoubleCompression(t *testing.T) {
	plan, err := EncodeArtifact(testArtifact(), 1)
	require.NoError(t, err)
	require.True(t, plan.Compressed)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(plan.Encoded)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DecodeArtifact(buf.Bytes())
	require.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestDecodeArtifact_InflationCap(t *testing.T) {
	previous := maxInflatedBytes
	maxInflatedBytes = 64
	t.Cleanup(func() { maxInflatedBytes = previous })

	plan, err := EncodeArtifact(testArtifact(), 1)
	require.NoError(t, err)
	require.True(t, plan.Compressed)

	_, err = DecodeArtifact(plan.Encoded)
	require.ErrorIs(t, err, ErrInvalidArtifact)
	assert.Contains(t, err.Error(), "decode limit")
}

func TestDecodeArtifact_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json nor gzip", "definitely not an artifact"},
		{"json but wrong shape", `[1,2,3]`},
		{"missing schema version", `{"recordSets":{}}`},
		{"unsupported schema version", `{"schemaVersion":99,"recordSets":{}}`},
		{"missing record sets", `{"schemaVersion":1}`},
		{"record set is not an array", `{"schemaVersion":1,"recordSets":{"users":"nope"}}`},
		{"document is a scalar", `{"schemaVersion":1,"recordSets":{"users":[42]}}`},
		{"document is null", `{"schemaVersion":1,"recordSets":{"users":[null]}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeArtifact([]byte(test.raw))
			require.ErrorIs(t, err, ErrInvalidArtifact)
		})
	}
}

func TestDecodeArtifact_EmptyStore(t *testing.T) {
	plan, err := EncodeArtifact(&BackupArtifact{
		SchemaVersion: CurrentSchemaVersion,
		GeneratedAt:   time.Date(2026, 8, 21, 9, 30, 45, 0, time.UTC),
		RecordSets:    map[string][]Document{},
	}, 0)
	require.NoError(t, err)

	out, err := DecodeArtifact(plan.Encoded)
	require.NoError(t, err)
	assert.Empty(t, out.RecordSets)
	assert.Equal(t, 0, out.TotalDocuments())
}
