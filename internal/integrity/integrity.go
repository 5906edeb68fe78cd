// Package integrity provides tamper-evident hashing for stored reports.
// All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

const hashPrefix = "v1:"

// ComputeReportHash produces a versioned SHA-256 hex digest over the
// report's identity, narrative and statistics. Each field is length-prefixed
// so free text containing delimiters cannot collide with another field.
func ComputeReportHash(r model.Report) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // report fields are bounded by request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(r.ID.String())
	writeField(r.Project)
	writeField(r.Subproject)
	writeField(r.SessionID)
	writeField(r.CreatedAt.UTC().Format(time.RFC3339Nano))
	writeField(r.Narrative)
	writeField(strconv.FormatFloat(r.WeightedAverage, 'f', 6, 64))
	writeField(canonical(r.Comparisons))
	writeField(canonical(r.Endpoints))
	writeField(strings.Join(r.Errors, "\n"))
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyReportHash reports whether stored matches the recomputed hash.
func VerifyReportHash(stored string, r model.Report) bool {
	return stored != "" && stored == ComputeReportHash(r)
}

// canonical renders v as JSON. Struct fields marshal in declaration order
// and maps in sorted key order, so the output is stable.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
