package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"omitempty,email"`
	Items    []item `json:"items" validate:"dive"`
}

type item struct {
	Name string `json:"name" validate:"required"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Username: "1abc", Email: "nope", Items: []item{{}}})
	require.Error(t, err)

	vErr, ok := As(err)
	require.True(t, ok)

	fields := map[string]string{}
	for _, e := range vErr.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "username", fields["username"])
	assert.Equal(t, "email", fields["email"])
	assert.Equal(t, "required", fields["items[0].name"])
}

func TestStructPasses(t *testing.T) {
	assert.NoError(t, Struct(sample{Username: "alice.w"}))
}

func TestErrorsErr(t *testing.T) {
	var v Errors
	assert.NoError(t, v.Err())

	v.Add("password", "too_short", "too short")
	err := v.Err()
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*Errors)))
	assert.Contains(t, err.Error(), "password: too_short")
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("email", "a@example.com", "email"))
	err := Var("email", "bad", "email")
	vErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "email", vErr.Errors[0].Field)
}
