package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "****6789", MaskSecret("secret-123456789"))
}

func TestMaskFieldsNested(t *testing.T) {
	in := map[string]any{
		"server_url":    "ldap://ldap.example.org",
		"bind_password": "hunter2hunter2",
		"password_initial": map[string]any{
			"generate_method": "fixed",
			"fixed_password":  "Passw0rd!Passw0rd",
		},
	}
	out := MaskFields(in, []string{"bind_password", "fixed_password"})

	assert.Equal(t, "ldap://ldap.example.org", out["server_url"])
	assert.Equal(t, "****ter2", out["bind_password"])
	nested := out["password_initial"].(map[string]any)
	assert.Equal(t, "fixed", nested["generate_method"])
	assert.Equal(t, "****w0rd", nested["fixed_password"])
	assert.Equal(t, "hunter2hunter2", in["bind_password"], "input must not be mutated")
}
