package aqua

import "testing"

func TestExtractRegion(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"canonical three-letter with digits", "c-gru20-abc.example", "gru"},
		{"scheme and path stripped", "wss://c-iad01-lava.discord.media/voice", "iad"},
		{"port stripped", "c-sgp10-x.example.com:443", "sgp"},
		{"no c- prefix falls back to dash token", "lb-syd20-1.example.com", "syd"},
		{"trailing digits stripped from first label", "syd1234.example.com", "syd"},
		{"non-three-letter remainder is unknown", "eu-west-a.example.net", unknownRegion},
		{"empty endpoint is unknown", "", unknownRegion},
		{"single opaque label is unknown", "localhost", unknownRegion},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := extractRegion(c.endpoint)
			if got != c.want {
				t.Errorf("extractRegion(%q) = %q, want %q", c.endpoint, got, c.want)
			}
		})
	}
}

func TestExtractRegionStable(t *testing.T) {
	endpoint := "c-gru20-abc.example"
	if extractRegion(endpoint) != extractRegion(endpoint) {
		t.Fatal("extractRegion is not stable across repeated calls")
	}
	if got := extractRegion(endpoint); got != "gru" {
		t.Fatalf("extractRegion(%q) = %q, want gru", endpoint, got)
	}
}
