//go:build test

package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures failures instead of failing the surrounding test.
type recorder struct {
	errors []string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(&recorder{}).Options()
	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowAnyValue)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		pass     bool
	}{
		{
			name:     "equal",
			actual:   `{"a":1,"b":"x"}`,
			expected: `{"b":"x","a":1}`,
			pass:     true,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"a":1,"extra":{"z":true}}`,
			expected: `{"a":1}`,
			pass:     true,
		},
		{
			name:     "extra keys reported",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"a":1,"extra":true}`,
			expected: `{"a":1}`,
		},
		{
			name:     "value mismatch",
			actual:   `{"a":{"b":[1,2]}}`,
			expected: `{"a":{"b":[1,3]}}`,
		},
		{
			name:     "any value",
			actual:   `{"path":"/x","value":"00ff"}`,
			expected: `{"path":"/x","value":"<<PRESENCE>>"}`,
			pass:     true,
		},
		{
			name:     "any value needs the key",
			actual:   `{"path":"/x"}`,
			expected: `{"path":"/x","value":"<<PRESENCE>>"}`,
		},
		{
			name:     "any value disabled",
			opts:     []Option{WithAllowAnyValue(false)},
			actual:   `{"value":"00ff"}`,
			expected: `{"value":"<<PRESENCE>>"}`,
		},
		{
			name:     "ignored fields",
			opts:     []Option{WithIgnoredFields("ts")},
			actual:   `[{"id":1,"ts":5},{"id":2,"ts":9}]`,
			expected: `[{"id":1,"ts":0},{"id":2}]`,
			pass:     true,
		},
		{
			name:     "invalid actual",
			actual:   `{`,
			expected: `{}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			ok := NewJSONAsserter(r).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, ok)
			if tt.pass {
				assert.Empty(t, r.errors)
			} else {
				assert.Len(t, r.errors, 1)
			}
		})
	}
}

func TestTextAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		pass     bool
	}{
		{name: "equal", actual: "a\nb", expected: "a\nb", pass: true},
		{name: "different", actual: "a\nc", expected: "a\nb"},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a\nb \n", expected: "a\nb", pass: true},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb", pass: true},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n\nb", expected: "a\nb", pass: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			ok := NewTextAsserter(r).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.pass, len(r.errors) == 0)
		})
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	diff := NewTextAsserter(&recorder{}).Diff("one\nthree\n", "one\ntwo\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+three")

	colored := NewTextAsserter(&recorder{}).WithOptions(WithEnableColors(true)).Diff("x", "y")
	assert.Contains(t, colored, "\x1b[")
}
