package infra

import "testing"

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		marker  string
		body    string
		wantErr bool
	}{
		{
			name:   "valid marker",
			query:  "--sql 0b6f2a52-94d6-4d43-9f8e-2f0e9a5c7d11\nselect 1;",
			marker: "0b6f2a52-94d6-4d43-9f8e-2f0e9a5c7d11",
			body:   "select 1;",
		},
		{
			name:   "leading whitespace",
			query:  "\n  --sql 0b6f2a52-94d6-4d43-9f8e-2f0e9a5c7d11\nselect 1;\n",
			marker: "0b6f2a52-94d6-4d43-9f8e-2f0e9a5c7d11",
			body:   "select 1;",
		},
		{name: "missing marker", query: "select 1;", wantErr: true},
		{name: "empty", query: "   ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, body, err := extractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("extractMarker error: %v", err)
			}
			if marker != tc.marker {
				t.Fatalf("marker = %q, want %q", marker, tc.marker)
			}
			if body != tc.body {
				t.Fatalf("body = %q, want %q", body, tc.body)
			}
		})
	}
}
