package identity

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Known spellings for each canonical field, in precedence order.
var (
	textFields        = []string{"text", "quote", "content", "body"}
	attributionFields = []string{"author", "attribution", "by"}
	countFields       = []string{"favorites", "favorite_count", "favorites_count", "count", "likes", "like_count"}
	likedFields       = []string{"liked", "favorited", "is_favorite", "is_liked"}
	ownerFields       = []string{"owner_id", "user_id", "posted_by", "owner"}
	createdFields     = []string{"created_at", "createdAt", "timestamp", "date"}
)

// Ingest maps a raw record onto an Item and assigns its identity key.
func Ingest(r Record) Item {
	it := Item{
		Text:        r.firstString(textFields),
		Attribution: r.firstString(attributionFields),
		OwnerID:     r.firstString(ownerFields),
		Count:       r.firstCount(countFields),
		Liked:       r.firstBool(likedFields),
		CreatedAt:   r.firstTime(createdFields),
	}
	it.Key = Key(it.Text, it.Attribution)
	return it
}

// IngestAll ingests records and drops the ones carrying no text.
func IngestAll(records []Record) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		it := Ingest(r)
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		items = append(items, it)
	}
	return items
}

func (r Record) lookup(fields []string) (any, bool) {
	for _, f := range fields {
		if v, ok := r[f]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r Record) firstString(fields []string) string {
	v, ok := r.lookup(fields)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func (r Record) firstCount(fields []string) uint {
	v, ok := r.lookup(fields)
	if !ok {
		return 0
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		return n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	return uint(f)
}

func (r Record) firstBool(fields []string) bool {
	v, ok := r.lookup(fields)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case json.Number:
		f, err := b.Float64()
		return err == nil && f != 0
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

func (r Record) firstTime(fields []string) time.Time {
	v, ok := r.lookup(fields)
	if !ok {
		return time.Time{}
	}
	if n, isNum := v.(json.Number); isNum {
		f, err := n.Float64()
		if err != nil {
			return time.Time{}
		}
		v = f
	}
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	case float64:
		// Unix seconds, or milliseconds when too large to be seconds.
		if t > 1e11 {
			return time.UnixMilli(int64(t)).UTC()
		}
		return time.Unix(int64(t), 0).UTC()
	}
	return time.Time{}
}
