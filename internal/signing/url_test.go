package signing

import "testing"

func TestValidateSigningURL(t *testing.T) {
	blocked := defaultBlockedURLParts
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://provider.example.com/sign/abc", false},
		{"valid http", "http://provider.example.com/sign/abc", false},
		{"blank", "", true},
		{"whitespace only", "   ", true},
		{"relative", "/sign/abc", true},
		{"missing host", "https:///sign/abc", true},
		{"ftp scheme", "ftp://x", true},
		{"localhost", "http://localhost:3000/firma/mock/abc", true},
		{"loopback ip", "http://127.0.0.1:8080/sign/abc", true},
		{"mock path", "https://provider.example.com/firma/mock/abc", true},
		{"case-insensitive blocklist", "https://LOCALHOST/sign/abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSigningURL(tc.url, blocked)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateSigningURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
