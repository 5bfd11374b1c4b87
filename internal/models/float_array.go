package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// FloatArray stores unix timestamps as a JSON array in a TEXT column,
// tolerating empty/legacy values.
type FloatArray []float64

func (a FloatArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float64(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *FloatArray) Scan(value interface{}) error {
	if a == nil {
		return fmt.Errorf("models.FloatArray: Scan on nil pointer")
	}
	if value == nil {
		*a = []float64{}
		return nil
	}

	var raw string
	switch v := value.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("models.FloatArray: unsupported Scan type %T", value)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		*a = []float64{}
		return nil
	}

	var arr []float64
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		*a = []float64{}
		return nil
	}
	*a = arr
	return nil
}
