package intake

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(RequestSchema()))
})

// RequestSchema returns the JSON schema of an assessment request body.
// It only checks structure; value coercion happens in Parse.
func RequestSchema() map[string]any {
	properties := make(map[string]any, len(fields))
	for _, name := range FieldNames() {
		switch name {
		case domain.FieldIndustryRisk, domain.FieldLocationType, domain.FieldBusinessType:
			properties[name] = map[string]any{"type": "string"}
		default:
			properties[name] = map[string]any{"type": []string{"number", "string"}}
		}
	}

	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"title":      "BusinessRecord",
		"type":       "object",
		"required":   FieldNames(),
		"properties": properties,
	}
}

// CheckSchema validates raw against the request schema and converts the
// violations into field errors ordered like the record fields.
func CheckSchema(raw map[string]any) domain.ValidationErrors {
	schema, err := compiledSchema()
	if err != nil {
		return domain.ValidationErrors{{Field: "(root)", Kind: domain.KindTypeMismatch, Reason: fmt.Sprintf("schema unavailable: %v", err)}}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return domain.ValidationErrors{{Field: "(root)", Kind: domain.KindTypeMismatch, Reason: err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	var errs domain.ValidationErrors
	for _, re := range result.Errors() {
		switch re.Type() {
		case "required":
			name, _ := re.Details()["property"].(string)
			errs = append(errs, &domain.ValidationError{Field: name, Kind: domain.KindMissingField})
		default:
			errs = append(errs, &domain.ValidationError{
				Field:  re.Field(),
				Kind:   domain.KindTypeMismatch,
				Value:  re.Value(),
				Reason: re.Description(),
			})
		}
	}

	order := make(map[string]int, len(fields))
	for i, name := range FieldNames() {
		order[name] = i
	}
	sort.SliceStable(errs, func(i, j int) bool {
		return order[errs[i].Field] < order[errs[j].Field]
	})
	return errs
}
