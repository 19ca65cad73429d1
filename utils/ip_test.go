package utils

import (
	"net/http/httptest"
	"testing"
)

func TestRealClientIP(t *testing.T) {
	cases := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "single forwarded", header: "203.0.113.9", remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "forwarded chain", header: "203.0.113.9, 10.0.0.2", remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "no port", remote: "10.0.0.1", want: "10.0.0.1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := RealClientIP(req); got != tc.want {
				t.Fatalf("RealClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
