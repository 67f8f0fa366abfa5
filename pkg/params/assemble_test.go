package params

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
)

func TestAssembleQueryStringOrder(t *testing.T) {
	a := NewAssembler(zaptest.NewLogger(t))

	got := a.Assemble("a=1&b=2&a=3", "", nil)

	assert.Equal(t, []string{"a", "b"}, got.Keys())
	assert.Equal(t, []string{"1", "3"}, got.Get("a"))
	assert.Equal(t, []string{"2"}, got.Get("b"))
}

func TestAssembleURLEncoded(t *testing.T) {
	tests := []struct {
		name     string
		encoded  string
		wantKeys []string
		want     map[string][]string
	}{
		{
			name:     "percent and plus decoding",
			encoded:  "name=John+Smith&city=S%C3%A3o%20Paulo",
			wantKeys: []string{"name", "city"},
			want:     map[string][]string{"name": {"John Smith"}, "city": {"São Paulo"}},
		},
		{
			name:     "segment without equals is skipped",
			encoded:  "a=1&flag&b=2",
			wantKeys: []string{"a", "b"},
			want:     map[string][]string{"a": {"1"}, "b": {"2"}},
		},
		{
			name:     "empty key is skipped",
			encoded:  "=orphan&a=1",
			wantKeys: []string{"a"},
			want:     map[string][]string{"a": {"1"}},
		},
		{
			name:     "empty value",
			encoded:  "a=&b=2",
			wantKeys: []string{"a", "b"},
			want:     map[string][]string{"a": {""}, "b": {"2"}},
		},
		{
			name:     "bad escape degrades to empty value",
			encoded:  "a=%zz&b=2",
			wantKeys: []string{"a", "b"},
			want:     map[string][]string{"a": {""}, "b": {"2"}},
		},
		{
			name:     "value keeps later equals signs",
			encoded:  "expr=a%3Db&raw=x=y",
			wantKeys: []string{"expr", "raw"},
			want:     map[string][]string{"expr": {"a=b"}, "raw": {"x=y"}},
		},
		{
			name:     "trailing ampersand",
			encoded:  "a=1&",
			wantKeys: []string{"a"},
			want:     map[string][]string{"a": {"1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assemble(tt.encoded, "", nil)
			assert.Equal(t, tt.wantKeys, got.Keys())
			for key, values := range tt.want {
				assert.Equal(t, values, got.Get(key), key)
			}
		})
	}
}

func TestAssembleQueryThenBody(t *testing.T) {
	got := Assemble("id=7&a=1", "application/x-www-form-urlencoded", []byte("b=2&a=3"))

	assert.Equal(t, []string{"id", "a", "b"}, got.Keys())
	assert.Equal(t, []string{"1", "3"}, got.Get("a"))

	first, ok := got.First("a")
	require.True(t, ok)
	assert.Equal(t, "1", first)
}

func TestAssembleUnknownContentTypeFallsBackToURLEncoded(t *testing.T) {
	got := Assemble("", "text/plain", []byte("x=1&y=2"))

	assert.Equal(t, []string{"x", "y"}, got.Keys())
}

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/people?id=9", strings.NewReader("name=Ann&age=41"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got, err := NewAssembler(zaptest.NewLogger(t)).FromRequest(req)

	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age"}, got.Keys())
	assert.Equal(t, "id=9&name=Ann&age=41", got.Encode())
}

func TestFromRequestBodyLimit(t *testing.T) {
	a := NewAssembler(zaptest.NewLogger(t))
	a.maxBodyBytes = int64(len("name=Ann&age=41"))

	req := httptest.NewRequest("POST", "/people", strings.NewReader("name=Ann&age=41"))
	got, err := a.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "name=Ann&age=41", got.Encode())

	req = httptest.NewRequest("POST", "/people", strings.NewReader("name=Ann&age=410"))
	_, err = a.FromRequest(req)
	assert.ErrorIs(t, err, apperrors.ErrBodyTooLarge)
}

func TestOrderedMergeAndPairs(t *testing.T) {
	o := FromPairs("a", "1", "b", "2")
	o.Merge(FromPairs("c", "3", "a", "4", "dangling"))

	assert.Equal(t, []string{"a", "b", "c", "dangling"}, o.Keys())
	assert.Equal(t, []string{"1", "4"}, o.Get("a"))
	assert.Equal(t, []string{""}, o.Get("dangling"))
	assert.Equal(t, 4, o.Len())

	var nilMap *Ordered
	assert.Equal(t, 0, nilMap.Len())
	_, ok := nilMap.First("a")
	assert.False(t, ok)
}
