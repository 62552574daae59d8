package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cmsapi/internal/model"
)

// Kind selects the decoder applied to a raw setting value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindJSON
	KindArray
	KindFileSize
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindJSON:
		return "json"
	case KindArray:
		return "array"
	case KindFileSize:
		return "filesize"
	default:
		return "string"
	}
}

// KindOf maps a row's declared type and category to a Kind. The filesize category wins over the type.
func KindOf(typ, category string) Kind {
	if strings.EqualFold(category, model.SettingCategoryFileSize) {
		return KindFileSize
	}
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case model.SettingTypeNumber:
		return KindNumber
	case model.SettingTypeBoolean:
		return KindBoolean
	case model.SettingTypeJSON:
		return KindJSON
	case model.SettingTypeArray:
		return KindArray
	default:
		return KindString
	}
}

// FileSize is the decoded value of a filesize row.
type FileSize struct {
	Bytes int64  `json:"bytes"`
	Label string `json:"label"`
}

var (
	errNotArray  = errors.New("value is not a JSON array")
	errNotFinite = errors.New("value is not a finite number")
)

// Decode converts raw according to kind. Booleans never fail; "true" and "1" are true.
func Decode(kind Kind, raw string) (interface{}, error) {
	switch kind {
	case KindNumber:
		n, err := parseFinite(raw)
		if err != nil {
			return nil, fmt.Errorf("parse number: %w", err)
		}
		return n, nil
	case KindBoolean:
		v := strings.TrimSpace(raw)
		return v == "true" || v == "1", nil
	case KindJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return v, nil
	case KindArray:
		var v []interface{}
		trimmed := bytes.TrimSpace([]byte(raw))
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, errNotArray
		}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("parse array: %w", err)
		}
		return v, nil
	case KindFileSize:
		return decodeFileSize(raw)
	default:
		return raw, nil
	}
}

func decodeFileSize(raw string) (FileSize, error) {
	var doc struct {
		Bytes json.RawMessage `json:"bytes"`
		Label string          `json:"label"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return FileSize{}, fmt.Errorf("parse filesize: %w", err)
	}
	// bytes may be stored as a number or a numeric string
	num := strings.Trim(strings.TrimSpace(string(doc.Bytes)), `"`)
	if num == "" {
		return FileSize{}, errors.New("parse filesize: bytes missing")
	}
	n, err := parseFinite(num)
	if err != nil {
		return FileSize{}, fmt.Errorf("parse filesize bytes: %w", err)
	}
	return FileSize{Bytes: int64(n), Label: doc.Label}, nil
}

// parseFinite rejects NaN and the infinities, which encoding/json cannot render.
func parseFinite(raw string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, errNotFinite
	}
	return n, nil
}
