package classvault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/sha3"
)

const (
	contentTypeJSON = "application/json"
	contentTypeGzip = "application/gzip"
)

// artifactEnvelope is the canonical on-wire form of a BackupArtifact.
// Documents are carried as canonical extended JSON so identifiers, dates
// and integer widths survive the round trip exactly.
type artifactEnvelope struct {
	SchemaVersion int                          `json:"schemaVersion"`
	GeneratedAt   time.Time                    `json:"generatedAt"`
	RecordSets    map[string][]json.RawMessage `json:"recordSets"`
}

// EncodeArtifact renders the artifact in its canonical text form and gzips
// the result once it exceeds compressThreshold bytes. A threshold <= 0
// disables compression. The returned plan's checksum covers the final
// bytes, compressed or not; the caller names the plan.
func EncodeArtifact(artifact *BackupArtifact, compressThreshold int64) (*DeliveryPlan, error) {
	env := &artifactEnvelope{
		SchemaVersion: artifact.SchemaVersion,
		GeneratedAt:   artifact.GeneratedAt.UTC(),
		RecordSets:    make(map[string][]json.RawMessage, len(artifact.RecordSets)),
	}

	for _, name := range artifact.SetNames() {
		docs := artifact.RecordSets[name]
		rawDocs := make([]json.RawMessage, 0, len(docs))
		for i, doc := range docs {
			raw, err := bson.MarshalExtJSON(doc, true, false)
			if err != nil {
				return nil, fmt.Errorf("encode document %d of record set %q: %w", i, name, err)
			}
			rawDocs = append(rawDocs, json.RawMessage(raw))
		}
		env.RecordSets[name] = rawDocs
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact envelope: %w", err)
	}

	plan := &DeliveryPlan{
		ContentType: contentTypeJSON,
		Encoded:     encoded,
		SizeBytes:   int64(len(encoded)),
	}

	if compressThreshold > 0 && plan.SizeBytes > compressThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(encoded); err != nil {
			return nil, fmt.Errorf("compress artifact: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress artifact: %w", err)
		}
		plan.Encoded = buf.Bytes()
		plan.SizeBytes = int64(buf.Len())
		plan.Compressed = true
		plan.ContentType = contentTypeGzip
	}

	plan.Checksum = fmt.Sprintf("%x", sha3.Sum256(plan.Encoded))
	return plan, nil
}

// DecodeArtifact parses raw artifact bytes regardless of how they were
// delivered. Canonical text is tried first; bytes that are not valid JSON
// get exactly one decompression pass before parsing again. Anything else,
// including doubly compressed input, is rejected with ErrInvalidArtifact.
func DecodeArtifact(raw []byte) (*BackupArtifact, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidArtifact)
	}

	if !json.Valid(raw) {
		inflated, err := gunzip(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		if !json.Valid(inflated) {
			return nil, fmt.Errorf("%w: decompressed payload is not canonical text", ErrInvalidArtifact)
		}
		raw = inflated
	}

	var env struct {
		SchemaVersion *int                         `json:"schemaVersion"`
		GeneratedAt   time.Time                    `json:"generatedAt"`
		RecordSets    map[string][]json.RawMessage `json:"recordSets"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if env.SchemaVersion == nil {
		return nil, fmt.Errorf("%w: missing schemaVersion", ErrInvalidArtifact)
	}
	if *env.SchemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidArtifact, *env.SchemaVersion)
	}
	if env.RecordSets == nil {
		return nil, fmt.Errorf("%w: missing recordSets", ErrInvalidArtifact)
	}

	out := &BackupArtifact{
		SchemaVersion: *env.SchemaVersion,
		GeneratedAt:   env.GeneratedAt,
		RecordSets:    make(map[string][]Document, len(env.RecordSets)),
	}
	for name, rawDocs := range env.RecordSets {
		docs := make([]Document, 0, len(rawDocs))
		for i, rawDoc := range rawDocs {
			var doc Document
			if err := bson.UnmarshalExtJSON(rawDoc, true, &doc); err != nil {
				return nil, fmt.Errorf("%w: document %d of record set %q: %v", ErrInvalidArtifact, i, name, err)
			}
			if doc == nil {
				return nil, fmt.Errorf("%w: document %d of record set %q is null", ErrInvalidArtifact, i, name)
			}
			docs = append(docs, doc)
		}
		out.RecordSets[name] = docs
	}
	return out, nil
}

// maxInflatedBytes bounds the decompression pass so a small compressed
// upload cannot balloon without limit while decoding.
var maxInflatedBytes = int64(1 << 30)

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("neither canonical text nor gzip: %v", err)
	}
	defer zr.Close()

	inflated, err := io.ReadAll(io.LimitReader(zr, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %v", err)
	}
	if int64(len(inflated)) > maxInflatedBytes {
		return nil, fmt.Errorf("inflates past the %d byte decode limit", maxInflatedBytes)
	}
	return inflated, nil
}
