package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ConfigHash fingerprints a feed's options. Keys are sorted at every level,
// so two mappings with the same content hash identically whatever order
// they were loaded in.
func ConfigHash(name string, options map[string]any) string {
	var sb strings.Builder
	writeCanonical(&sb, options)

	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte(sb.String()))

	return hex.EncodeToString(h.Sum(nil))
}

// writeCanonical emits compact-but-spaced JSON (", " and ": " separators,
// ASCII only), which keeps hashes stable with documents published before.
func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		writeCanonicalString(sb, val)
	case json.Number:
		sb.WriteString(val.String())
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case float64:
		sb.WriteString(formatCanonicalFloat(val))
	case []string:
		writeCanonicalList(sb, len(val), func(i int) any { return val[i] })
	case []any:
		writeCanonicalList(sb, len(val), func(i int) any { return val[i] })
	case map[string]any:
		keys := lo.Keys(val)
		slices.Sort(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeCanonicalString(sb, k)
			sb.WriteString(": ")
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	default:
		writeCanonicalString(sb, fmt.Sprint(val))
	}
}

func writeCanonicalList(sb *strings.Builder, n int, at func(int) any) {
	sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeCanonical(sb, at(i))
	}
	sb.WriteByte(']')
}

func writeCanonicalString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r > 0x7f && r <= 0xffff):
				fmt.Fprintf(sb, `\u%04x`, r)
			case r > 0xffff:
				r -= 0x10000
				fmt.Fprintf(sb, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			default:
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

func formatCanonicalFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}
