package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of input where every value stored under one of
// the secret keys, at any depth, is masked.
func MaskFields(input map[string]any, secretKeys []string) map[string]any {
	if input == nil {
		return nil
	}
	secrets := make(map[string]struct{}, len(secretKeys))
	for _, key := range secretKeys {
		secrets[key] = struct{}{}
	}
	return maskMap(input, secrets)
}

func maskMap(input map[string]any, secrets map[string]struct{}) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		if _, secret := secrets[key]; secret {
			if s, ok := value.(string); ok {
				out[key] = MaskSecret(s)
			} else {
				out[key] = maskToken
			}
			continue
		}
		out[key] = maskValue(value, secrets)
	}
	return out
}

func maskValue(value any, secrets map[string]struct{}) any {
	switch cast := value.(type) {
	case map[string]any:
		return maskMap(cast, secrets)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item, secrets))
		}
		return out
	default:
		return value
	}
}
