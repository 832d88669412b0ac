package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodeRef(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want CodeRef
	}{
		{"file only", "internal/auth/login.go", CodeRef{File: "internal/auth/login.go"}},
		{"file and symbol", "internal/auth/login.go#Handler", CodeRef{File: "internal/auth/login.go", Symbols: []string{"Handler"}}},
		{"nested symbols", "internal/auth/login.go#Handler::ServeHTTP", CodeRef{File: "internal/auth/login.go", Symbols: []string{"Handler", "ServeHTTP"}}},
		{"project qualified", "acme/billing::pkg/ledger.go#Post", CodeRef{Project: "acme/billing", File: "pkg/ledger.go", Symbols: []string{"Post"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCodeRef(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseCodeRefErrors(t *testing.T) {
	for _, in := range []string{"", "#Handler", "file.go#", "file.go#A::", "noSlash::file.go"} {
		_, err := ParseCodeRef(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFileKey(t *testing.T) {
	roots := map[string]string{"acme/billing": "/srv/billing"}

	local := CodeRef{File: "pkg/a.go"}
	assert.Equal(t, "/repo/pkg/a.go", local.FileKey("/repo", roots))

	known := CodeRef{Project: "acme/billing", File: "pkg/ledger.go"}
	assert.Equal(t, "/srv/billing/pkg/ledger.go", known.FileKey("/repo", roots))

	unknown := CodeRef{Project: "acme/other", File: "pkg/x.go"}
	assert.Equal(t, "acme/other::pkg/x.go", unknown.FileKey("/repo", roots))
}

func TestSymbolsOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want bool
	}{
		{"whole file vs symbol", nil, []string{"Handler"}, true},
		{"equal paths", []string{"Handler"}, []string{"Handler"}, true},
		{"prefix containment", []string{"Handler"}, []string{"Handler", "ServeHTTP"}, true},
		{"sibling methods", []string{"Handler", "ServeHTTP"}, []string{"Handler", "Close"}, false},
		{"distinct symbols", []string{"Handler"}, []string{"Store"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SymbolsOverlap(tt.a, tt.b))
			assert.Equal(t, tt.want, SymbolsOverlap(tt.b, tt.a))
		})
	}
}
