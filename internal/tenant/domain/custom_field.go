package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidCustomFieldValue = errors.New("invalid_custom_field_value")

// CheckCustomFieldValue validates a decoded JSON value against the field
// definition. Enum values are option ids.
func CheckCustomFieldValue(field TenantUserCustomField, value any) error {
	if value == nil {
		if field.Required {
			return fmt.Errorf("%w: %s is required", ErrInvalidCustomFieldValue, field.Name)
		}
		return nil
	}

	switch field.DataType {
	case CustomFieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidCustomFieldValue, field.Name)
		}
	case CustomFieldNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
		default:
			return fmt.Errorf("%w: %s must be a number", ErrInvalidCustomFieldValue, field.Name)
		}
	case CustomFieldEnum:
		id, ok := value.(string)
		if !ok || !field.hasOption(id) {
			return fmt.Errorf("%w: %s must be one of its options", ErrInvalidCustomFieldValue, field.Name)
		}
	case CustomFieldMultiEnum:
		ids, ok := toStrings(value)
		if !ok {
			return fmt.Errorf("%w: %s must be a list of options", ErrInvalidCustomFieldValue, field.Name)
		}
		for _, id := range ids {
			if !field.hasOption(id) {
				return fmt.Errorf("%w: %s has unknown option %q", ErrInvalidCustomFieldValue, field.Name, id)
			}
		}
	default:
		return fmt.Errorf("%w: unknown data type %q", ErrInvalidCustomFieldValue, field.DataType)
	}
	return nil
}

func (f TenantUserCustomField) hasOption(id string) bool {
	for _, opt := range f.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

func toStrings(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
