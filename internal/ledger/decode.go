package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Bitable cell values are a tagged union: the same field arrives as a bare
// string, a number, an object with text/link keys, or a list of such objects
// depending on the column type and how the row was entered. The decoders
// below normalize each shape and return an explicit error for anything else.

type linkCell struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// DecodeLink extracts a URL from a cell that may be a string, a link object,
// or a list of link objects. The link key wins over display text.
func DecodeLink(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var obj linkCell
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Link != "" || obj.Text != "") {
		if obj.Link != "" {
			return strings.TrimSpace(obj.Link), nil
		}
		return strings.TrimSpace(obj.Text), nil
	}

	var list []linkCell
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if item.Link != "" {
				return strings.TrimSpace(item.Link), nil
			}
		}
		for _, item := range list {
			if item.Text != "" {
				return strings.TrimSpace(item.Text), nil
			}
		}
		return "", nil
	}

	return "", fmt.Errorf("link cell has unsupported shape: %s", truncate(raw))
}

// DecodeText flattens a text cell: bare string, rich-text segment list, or
// number.
func DecodeText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var segments []linkCell
	if err := json.Unmarshal(raw, &segments); err == nil {
		var b strings.Builder
		for _, seg := range segments {
			b.WriteString(seg.Text)
		}
		return strings.TrimSpace(b.String()), nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}

	return "", fmt.Errorf("text cell has unsupported shape: %s", truncate(raw))
}

// DecodeNumber reads a numeric cell as an integer count. Nil means the cell
// is empty, which is distinct from zero.
func DecodeNumber(raw json.RawMessage) (*int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		v := int64(math.Round(n))
		return &v, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("number cell %q: %w", s, err)
		}
		return &v, nil
	}

	return nil, fmt.Errorf("number cell has unsupported shape: %s", truncate(raw))
}

// DecodeDate normalizes a date cell to yyyy-mm-dd. Bitable date columns carry
// millisecond epochs; text columns carry the string as typed.
func DecodeDate(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if ms <= 0 {
			return "", nil
		}
		return time.UnixMilli(ms).UTC().Format("2006-01-02"), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	return "", fmt.Errorf("date cell has unsupported shape: %s", truncate(raw))
}

func truncate(raw json.RawMessage) string {
	const max = 80
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
