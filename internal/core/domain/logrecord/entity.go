// Package logrecord holds the value objects at the front of the ingestion
// pipeline: the raw wire shape submitted by clients, the normalized record
// that flows through validation, buffering, and persistence, and the
// structured errors produced along the way.
package logrecord

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Level is a normalized log severity. Case-insensitive on input, always
// upper-case once stored on a NormalizedRecord.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

func parseLevel(raw string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(LevelDebug):
		return LevelDebug, true
	case string(LevelInfo):
		return LevelInfo, true
	case string(LevelWarn):
		return LevelWarn, true
	case string(LevelError):
		return LevelError, true
	case string(LevelFatal):
		return LevelFatal, true
	default:
		return "", false
	}
}

const (
	maxAppIDLen      = 64
	maxMessageLen    = 4096
	maxSourceLen     = 32
	maxEnvironmentLen = 32
	maxMetadataBytes = 16 * 1024
)

// RawRecord is the untyped shape accepted from the wire (§3, §6): the
// ingress layer decodes JSON directly into this struct, so untyped maps
// never reach the normalizer except via Metadata, which is deliberately
// opaque until New serializes and size-checks it.
type RawRecord struct {
	AppID       string                 `json:"app_id"`
	Level       string                 `json:"level"`
	Message     string                 `json:"message"`
	Source      string                 `json:"source"`
	Environment string                 `json:"environment,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
}

// FieldError describes why a single raw record was rejected during
// normalization. Index refers to the record's position in the submitted
// batch.
type FieldError struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"error"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

// NormalizedRecord is an immutable value object: every field is set once, in
// New, and never mutated afterward. Metadata's serialized form is computed
// once in New, where the size invariant is checked, and cached so writes
// never re-marshal it.
type NormalizedRecord struct {
	appID       string
	level       Level
	message     string
	source      string
	environment string
	metadata    map[string]interface{}
	traceID     string
	userID      string

	// streamMessageID is the empty string until the record has been read
	// back off the broker; set via WithStreamMessageID, which returns a new
	// value rather than mutating the receiver.
	streamMessageID string

	metadataJSON    []byte
	metadataJSONSet bool
}

func (r *NormalizedRecord) AppID() string       { return r.appID }
func (r *NormalizedRecord) Level() Level        { return r.level }
func (r *NormalizedRecord) Message() string     { return r.message }
func (r *NormalizedRecord) Source() string      { return r.source }
func (r *NormalizedRecord) Environment() string { return r.environment }
func (r *NormalizedRecord) TraceID() string     { return r.traceID }
func (r *NormalizedRecord) UserID() string      { return r.userID }
func (r *NormalizedRecord) StreamMessageID() string { return r.streamMessageID }

// Metadata returns a shallow copy so callers cannot mutate the record's
// internal map.
func (r *NormalizedRecord) Metadata() map[string]interface{} {
	if r.metadata == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(r.metadata))
	for k, v := range r.metadata {
		cp[k] = v
	}
	return cp
}

// MetadataJSON returns the cached serialized metadata; it marshals only when
// no cached form was set at construction. The size invariant (§3, §8 "Metadata size invariant") is enforced at
// construction time in New, so a record that exists has already proven its
// serialized form fits within maxMetadataBytes; this just avoids
// re-marshaling on every persistence attempt.
func (r *NormalizedRecord) MetadataJSON() ([]byte, error) {
	if r.metadataJSONSet {
		return r.metadataJSON, nil
	}
	if r.metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(r.metadata)
	if err != nil {
		return nil, err
	}
	r.metadataJSON = data
	r.metadataJSONSet = true
	return data, nil
}

// ToRaw projects the record back to the wire shape, for serializing onto
// the stream after validation at ingress time. The stream payload is the
// normalized record re-expressed as RawRecord JSON rather than a bespoke
// wire format, so the worker can reconstruct a NormalizedRecord on the
// other end with the same constructor invariants that produced it.
func (r *NormalizedRecord) ToRaw() RawRecord {
	return RawRecord{
		AppID:       r.appID,
		Level:       string(r.level),
		Message:     r.message,
		Source:      r.source,
		Environment: r.environment,
		Metadata:    r.Metadata(),
		TraceID:     r.traceID,
		UserID:      r.userID,
	}
}

// WithStreamMessageID returns a copy of the record with its broker-assigned
// id attached. It does not mutate r: the record read off the stream and the
// record handed to the buffer are distinct values, preserving immutability.
func (r *NormalizedRecord) WithStreamMessageID(id string) *NormalizedRecord {
	cp := *r
	cp.streamMessageID = id
	return &cp
}

// New validates a RawRecord and constructs the corresponding NormalizedRecord,
// or returns a FieldError describing the first failing field (§4.1).
func New(raw RawRecord) (*NormalizedRecord, error) {
	appID := strings.TrimSpace(raw.AppID)
	if appID == "" {
		return nil, FieldError{Field: "app_id", Reason: "app_id is required"}
	}
	if len(appID) > maxAppIDLen {
		return nil, FieldError{Field: "app_id", Reason: fmt.Sprintf("app_id exceeds %d characters", maxAppIDLen)}
	}

	level, ok := parseLevel(raw.Level)
	if !ok {
		return nil, FieldError{Field: "level", Reason: fmt.Sprintf("level %q is not one of DEBUG, INFO, WARN, ERROR, FATAL", raw.Level)}
	}

	message := raw.Message
	if message == "" {
		return nil, FieldError{Field: "message", Reason: "message is required"}
	}
	if len(message) > maxMessageLen {
		return nil, FieldError{Field: "message", Reason: fmt.Sprintf("message exceeds %d characters", maxMessageLen)}
	}

	source := strings.TrimSpace(raw.Source)
	if source == "" {
		return nil, FieldError{Field: "source", Reason: "source is required"}
	}
	if len(source) > maxSourceLen {
		return nil, FieldError{Field: "source", Reason: fmt.Sprintf("source exceeds %d characters", maxSourceLen)}
	}

	environment := strings.TrimSpace(raw.Environment)
	if len(environment) > maxEnvironmentLen {
		return nil, FieldError{Field: "environment", Reason: fmt.Sprintf("environment exceeds %d characters", maxEnvironmentLen)}
	}

	var metadata map[string]interface{}
	var metadataJSON []byte
	if raw.Metadata != nil {
		metadata = normalizeMetadataNumbers(raw.Metadata)
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, FieldError{Field: "metadata", Reason: "metadata is not JSON-serializable"}
		}
		if len(data) > maxMetadataBytes {
			return nil, FieldError{Field: "metadata", Reason: fmt.Sprintf("metadata serialized size %d exceeds %d bytes", len(data), maxMetadataBytes)}
		}
		metadataJSON = data
	}

	return &NormalizedRecord{
		appID:           appID,
		level:           level,
		message:         message,
		source:          source,
		environment:     environment,
		metadata:        metadata,
		traceID:         strings.TrimSpace(raw.TraceID),
		userID:          strings.TrimSpace(raw.UserID),
		metadataJSON:    metadataJSON,
		metadataJSONSet: metadataJSON != nil || raw.Metadata != nil,
	}, nil
}

// normalizeMetadataNumbers re-encodes any float64 leaf (the shape
// encoding/json produces for numeric values on decode into
// map[string]interface{}) through shopspring/decimal so metadata numbers
// survive normalization at full precision instead of float64's binary
// rounding. Nested maps and slices are walked recursively.
func normalizeMetadataNumbers(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = normalizeMetadataValue(v)
	}
	return out
}

func normalizeMetadataValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return normalizeMetadataNumbers(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeMetadataValue(e)
		}
		return out
	case float64:
		// encoding/json decodes all JSON numbers into map[string]interface{}
		// as float64. Re-express through shopspring/decimal so a value like
		// 19.99 round-trips as "19.99" in stored metadata instead of
		// float64's nearest binary approximation.
		return decimal.NewFromFloat(t).String()
	default:
		return v
	}
}
