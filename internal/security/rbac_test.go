package security

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		granted  []string
		required string
		want     bool
	}{
		{granted: []string{"tracking:read"}, required: "tracking:read", want: true},
		{granted: []string{"tracking:read"}, required: "tracking:write", want: false},
		{granted: []string{"tracking:*"}, required: "tracking:write", want: true},
		{granted: []string{"videos:*"}, required: "tracking:write", want: false},
		{granted: []string{"*"}, required: "tracking:write", want: true},
		{granted: nil, required: "tracking:read", want: false},
		{granted: []string{" tracking:read "}, required: "tracking:read", want: true},
	}
	for _, tc := range tests {
		if got := HasPermission(tc.granted, tc.required); got != tc.want {
			t.Fatalf("HasPermission(%v, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
		}
	}
}
