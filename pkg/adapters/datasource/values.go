package datasource

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/google/uuid"
)

// NormalizeValue converts driver values into JSON-friendly ones: UUIDs become
// their canonical string, binary becomes base64, NaN becomes null.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// NormalizeRow applies NormalizeValue to every value of row in place.
func NormalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = NormalizeValue(v)
	}
	return row
}
