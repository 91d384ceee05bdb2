package schema

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// ShapeScanner lists the persisted shapes of a category. Only metadata is needed.
type ShapeScanner interface {
	ShapesInCategory(ctx context.Context, categoryID uuid.UUID) ([]*shape.Shape, error)
}

// Allocator hands out the next value of an auto_id field.
type Allocator interface {
	Next(ctx context.Context, categoryID uuid.UUID, fieldID string) (int64, error)
}

// ResolveAutoID scans the category's shapes and returns the largest numeric
// value stored under fieldID plus one, or 1 if there is none or the scan
// fails. Two concurrent callers can receive the same value.
func ResolveAutoID(ctx context.Context, scanner ShapeScanner, categoryID uuid.UUID, fieldID string) int64 {
	max, found, err := scanMax(ctx, scanner, categoryID, fieldID)
	if err != nil || !found {
		return 1
	}
	return max + 1
}

func scanMax(ctx context.Context, scanner ShapeScanner, categoryID uuid.UUID, fieldID string) (int64, bool, error) {
	shapes, err := scanner.ShapesInCategory(ctx, categoryID)
	if err != nil {
		return 0, false, fmt.Errorf("scan category %s: %w", categoryID, err)
	}
	var (
		max   int64
		found bool
	)
	for _, s := range shapes {
		n, ok := numericValue(s.Metadata[fieldID])
		if !ok {
			continue
		}
		if !found || n > max {
			max = n
			found = true
		}
	}
	return max, found, nil
}

// numericValue reads a stored auto_id value. Values with no successor in
// int64 are skipped like non-numeric ones.
func numericValue(raw any) (int64, bool) {
	var n int64
	switch v := raw.(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	default:
		f, ok := toFloat(raw)
		if !ok {
			return 0, false
		}
		f = math.Floor(f)
		// -2^63 and 2^63 are exact in float64; anything outside wraps on conversion
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		n = int64(f)
	}
	if n == math.MaxInt64 {
		return 0, false
	}
	return n, true
}

// ScanAllocator allocates by scanning existing shapes on every call.
type ScanAllocator struct {
	scanner ShapeScanner
}

// NewScanAllocator creates a ScanAllocator.
func NewScanAllocator(scanner ShapeScanner) *ScanAllocator {
	return &ScanAllocator{scanner: scanner}
}

func (a *ScanAllocator) Next(ctx context.Context, categoryID uuid.UUID, fieldID string) (int64, error) {
	return ResolveAutoID(ctx, a.scanner, categoryID, fieldID), nil
}

// allocScript raises the counter to at least ARGV[1], increments it, and returns the result.
var allocScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then cur = floor end
cur = cur + 1
redis.call('SET', KEYS[1], cur)
return cur
`)

// RedisAllocator serializes allocation through a Redis counter per category
// and field. The counter is seeded from the scan maximum, so values stay
// ahead of anything already stored.
type RedisAllocator struct {
	client  redis.Scripter
	scanner ShapeScanner
	prefix  string
	logger  *slog.Logger
}

// NewRedisAllocator creates a RedisAllocator. Keys are "<prefix>:<category>:<field>".
func NewRedisAllocator(client redis.Scripter, scanner ShapeScanner, prefix string, logger *slog.Logger) *RedisAllocator {
	return &RedisAllocator{client: client, scanner: scanner, prefix: prefix, logger: logger}
}

// Key returns the counter key for a category field.
func (a *RedisAllocator) Key(categoryID uuid.UUID, fieldID string) string {
	return fmt.Sprintf("%s:%s:%s", a.prefix, categoryID, fieldID)
}

func (a *RedisAllocator) Next(ctx context.Context, categoryID uuid.UUID, fieldID string) (int64, error) {
	floor, _, err := scanMax(ctx, a.scanner, categoryID, fieldID)
	if err != nil {
		a.logger.Warn("auto id scan failed, seeding counter from zero", "category_id", categoryID, "field_id", fieldID, "error", err)
		floor = 0
	}

	n, err := allocScript.Run(ctx, a.client, []string{a.Key(categoryID, fieldID)}, floor).Int64()
	if err != nil {
		a.logger.Warn("auto id counter unavailable, falling back to scan", "category_id", categoryID, "field_id", fieldID, "error", err)
		return floor + 1, nil
	}
	return n, nil
}

// ApplyAutoIDs returns a copy of metadata with a freshly allocated value for
// every auto_id field of c. Values supplied by the caller are overwritten.
func ApplyAutoIDs(ctx context.Context, alloc Allocator, c *Category, metadata map[string]any) (map[string]any, error) {
	out := shape.CloneMetadata(metadata)
	if out == nil {
		out = make(map[string]any)
	}
	if c == nil {
		return out, nil
	}
	for _, f := range AutoIDFields(c) {
		n, err := alloc.Next(ctx, c.ID, f.ID)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", f.ID, err)
		}
		out[f.ID] = n
	}
	return out, nil
}
