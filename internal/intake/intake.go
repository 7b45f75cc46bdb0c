// Package intake turns raw, loosely typed business data into validated records.
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

// ErrMalformedBody is returned by Decode when the body is not a JSON object.
var ErrMalformedBody = errors.New("malformed request body")

type field struct {
	name string
	set  func(rec *domain.BusinessRecord, v any) *domain.ValidationError
}

// fields lists every record attribute in wire order. Errors are reported in this order.
var fields = []field{
	realField(domain.FieldBusinessVintage, func(r *domain.BusinessRecord, v float64) { r.BusinessVintage = v }),
	intField(domain.FieldExistingLoanCount, func(r *domain.BusinessRecord, v int) { r.ExistingLoanCount = v }),
	intField(domain.FieldRepaymentDelays, func(r *domain.BusinessRecord, v int) { r.RepaymentDelays = v }),
	realField(domain.FieldAnnualTurnover, func(r *domain.BusinessRecord, v float64) { r.AnnualTurnover = v }),
	realField(domain.FieldProfitMargin, func(r *domain.BusinessRecord, v float64) { r.ProfitMargin = v }),
	realField(domain.FieldDebtToIncomeRatio, func(r *domain.BusinessRecord, v float64) { r.DebtToIncomeRatio = v }),
	intField(domain.FieldGSTFilingDelay, func(r *domain.BusinessRecord, v int) { r.GSTFilingDelay = v }),
	realField(domain.FieldUPIMonthlyVolume, func(r *domain.BusinessRecord, v float64) { r.UPIMonthlyVolume = v }),
	realField(domain.FieldUPIVolatility, func(r *domain.BusinessRecord, v float64) { r.UPIVolatility = v }),
	realField(domain.FieldSocialMediaRating, func(r *domain.BusinessRecord, v float64) { r.SocialMediaRating = v }),
	intField(domain.FieldNegativeKeywords, func(r *domain.BusinessRecord, v int) { r.NegativeKeywords = v }),
	realField(domain.FieldAvgMonthlyBalance, func(r *domain.BusinessRecord, v float64) { r.AvgMonthlyBalance = v }),
	realField(domain.FieldMinMonthlyBalance, func(r *domain.BusinessRecord, v float64) { r.MinMonthlyBalance = v }),
	realField(domain.FieldEcommerceRating, func(r *domain.BusinessRecord, v float64) { r.EcommerceRating = v }),
	realField(domain.FieldReturnRate, func(r *domain.BusinessRecord, v float64) { r.ReturnRate = v }),
	{name: domain.FieldIndustryRisk, set: setIndustryRisk},
	{name: domain.FieldBusinessType, set: setBusinessType},
	intField(domain.FieldEmployeeCount, func(r *domain.BusinessRecord, v int) { r.EmployeeCount = v }),
	{name: domain.FieldLocationType, set: setLocationType},
}

// FieldNames returns the record field names in wire order.
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// Parse validates a raw record. Every field is required; numeric fields
// accept numbers or numeric strings. On failure the returned error is a
// domain.ValidationErrors naming each rejected field.
func Parse(raw map[string]any) (domain.BusinessRecord, error) {
	var (
		rec  domain.BusinessRecord
		errs domain.ValidationErrors
	)

	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok || v == nil {
			errs = append(errs, &domain.ValidationError{Field: f.name, Kind: domain.KindMissingField})
			continue
		}
		if err := f.set(&rec, v); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return domain.BusinessRecord{}, errs
	}
	return rec, nil
}

// Decode parses a JSON object body and validates it.
func Decode(body []byte) (domain.BusinessRecord, error) {
	raw, err := DecodeRaw(body)
	if err != nil {
		return domain.BusinessRecord{}, err
	}
	return Validate(raw)
}

// Validate checks raw against the request schema, then parses it.
func Validate(raw map[string]any) (domain.BusinessRecord, error) {
	if errs := CheckSchema(raw); len(errs) > 0 {
		return domain.BusinessRecord{}, errs
	}
	return Parse(raw)
}

// DecodeRaw decodes a JSON object body without validating its fields.
func DecodeRaw(body []byte) (map[string]any, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedBody)
	}
	return raw, nil
}

func realField(name string, assign func(*domain.BusinessRecord, float64)) field {
	return field{name: name, set: func(rec *domain.BusinessRecord, v any) *domain.ValidationError {
		f, err := toReal(v)
		if err != nil {
			return mismatch(name, v, err.Error())
		}
		assign(rec, f)
		return nil
	}}
}

func intField(name string, assign func(*domain.BusinessRecord, int)) field {
	return field{name: name, set: func(rec *domain.BusinessRecord, v any) *domain.ValidationError {
		n, err := toInt(v)
		if err != nil {
			return mismatch(name, v, err.Error())
		}
		assign(rec, n)
		return nil
	}}
}

func setIndustryRisk(rec *domain.BusinessRecord, v any) *domain.ValidationError {
	s, ok := v.(string)
	if !ok {
		return mismatch(domain.FieldIndustryRisk, v, "must be a string")
	}
	risk, err := domain.ParseIndustryRisk(s)
	if err != nil {
		return asValidationError(err)
	}
	rec.IndustryRisk = risk
	return nil
}

func setLocationType(rec *domain.BusinessRecord, v any) *domain.ValidationError {
	s, ok := v.(string)
	if !ok {
		return mismatch(domain.FieldLocationType, v, "must be a string")
	}
	loc, err := domain.ParseLocationType(s)
	if err != nil {
		return asValidationError(err)
	}
	rec.LocationType = loc
	return nil
}

func setBusinessType(rec *domain.BusinessRecord, v any) *domain.ValidationError {
	if _, isBool := v.(bool); isBool {
		return mismatch(domain.FieldBusinessType, v, "must be a string")
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return mismatch(domain.FieldBusinessType, v, "must be a string")
	}
	rec.BusinessType = s
	return nil
}

func toReal(v any) (float64, error) {
	switch x := v.(type) {
	case bool:
		return 0, errors.New("must be a number")
	case string:
		v = strings.TrimSpace(x)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("must be a finite number")
	}
	return f, nil
}

// toInt truncates fractional numbers toward zero. Strings must hold a
// base-10 integer.
func toInt(v any) (int, error) {
	switch x := v.(type) {
	case bool:
		return 0, errors.New("must be an integer")
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, errors.New("must be an integer")
		}
		return n, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, errors.New("must be a finite integer")
		}
		return int(math.Trunc(x)), nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return n, nil
}

func mismatch(name string, v any, reason string) *domain.ValidationError {
	return &domain.ValidationError{Field: name, Kind: domain.KindTypeMismatch, Value: v, Reason: reason}
}

func asValidationError(err error) *domain.ValidationError {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &domain.ValidationError{Kind: domain.KindTypeMismatch, Reason: err.Error()}
}
