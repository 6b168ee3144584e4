package ssrfguard

import "testing"

func TestIsSafeOriginURL(t *testing.T) {
	cases := []struct {
		url  string
		safe bool
	}{
		{"https://example.com/", true},
		{"http://example.com/", true},
		{"ftp://example.com/", false},
		{"https://localhost/", false},
		{"https://127.0.0.1/", false},
		{"https://127.5.6.7/", false},
		{"https://[::1]/", false},
		{"https://10.0.0.1/", false},
		{"https://172.16.0.1/", false},
		{"https://192.168.1.1/", false},
		{"https://169.254.1.1/", false},
		{"https://8.8.8.8/", true},
		{"not a url at all://", false},
		{"https:///path", false},
	}
	for _, c := range cases {
		safe, reason := IsSafeOriginURL(c.url)
		if safe != c.safe {
			t.Errorf("IsSafeOriginURL(%q) = (%v, %v), want safe=%v", c.url, safe, reason, c.safe)
		}
	}
}
