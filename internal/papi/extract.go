package papi

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmespath/go-jmespath"
)

// Expressions selecting enrichment keys from a property-version record.
var (
	ExprPropertyName = jmespath.MustCompile("propertyName")
	ExprContractID   = jmespath.MustCompile("contractId")
	ExprGroupID      = jmespath.MustCompile("groupId")
	ExprAssetID      = jmespath.MustCompile("assetId")
	ExprRuleFormat   = jmespath.MustCompile("versions.items[0].ruleFormat")
	ExprProductID    = jmespath.MustCompile("versions.items[0].productId")
	ExprUpdatedDate  = jmespath.MustCompile("versions.items[0].updatedDate")
)

// Record is a decoded JSON document ready for repeated key extraction.
type Record struct {
	data any
}

// ParseRecord decodes a response body once.
func ParseRecord(body []byte) (*Record, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &Record{data: data}, nil
}

// String evaluates expr and renders the result as a string. A missing key
// yields "" and no error.
func (r *Record) String(expr *jmespath.JMESPath) (string, error) {
	v, err := expr.Search(r.data)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Int64 evaluates expr as an integer; a missing key yields 0.
func (r *Record) Int64(expr *jmespath.JMESPath) (int64, error) {
	s, err := r.String(expr)
	if err != nil || s == "" {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}
