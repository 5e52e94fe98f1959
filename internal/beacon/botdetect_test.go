package beacon

import "testing"

func TestClassifyTiming(t *testing.T) {
	c := NewClassifier(30)

	tests := []struct {
		name    string
		seconds int64
		ua      string
		want    bool
	}{
		{"instant fetch is a scanner", 0, "", true},
		{"10s after activation", 10, "", true},
		{"just under threshold", 29, "", true},
		{"at threshold", 30, "", false},
		{"45s after activation", 45, "", false},
		{"hours later", 9000, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.seconds, tt.ua); got != tt.want {
				t.Errorf("Classify(%d, %q) = %v, want %v", tt.seconds, tt.ua, got, tt.want)
			}
		})
	}
}

func TestClassifyUserAgent(t *testing.T) {
	c := NewClassifier(30)

	tests := []struct {
		name string
		ua   string
		want bool
	}{
		{"mimecast scanner", "Mimecast-Url-Protection/1.0", true},
		{"proofpoint scanner", "ProofPoint URL Defense", true},
		{"barracuda scanner", "Barracuda Sentinel", true},
		{"case insensitive", "MIMECAST link check service", true},
		{"generic crawler", "Googlebot/2.1 (+http://www.google.com/bot.html)", true},
		{"curl", "curl/8.4.0", true},
		{"real browser", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", false},
		{"apple mail", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15) AppleWebKit/605.1.15", false},
		{"empty user agent", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Well past the timing threshold so only the UA heuristic fires.
			if got := c.Classify(120, tt.ua); got != tt.want {
				t.Errorf("Classify(120, %q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}

func TestClassifyEitherHeuristicSuffices(t *testing.T) {
	c := NewClassifier(30)

	// Scanner UA long after activation: still a bot.
	if !c.Classify(86400, "Mimecast-Url-Protection/1.0") {
		t.Error("scanner UA a day later should classify as bot")
	}
	// Clean UA immediately after activation: still a bot.
	if !c.Classify(2, "Mozilla/5.0 (Windows NT 10.0)") {
		t.Error("clean UA two seconds after activation should classify as bot")
	}
}

func TestClassifyExtraPatterns(t *testing.T) {
	c := NewClassifier(30, "Acme Mail Shield", "  ", "")

	if !c.Classify(300, "acme mail shield v2") {
		t.Error("configured extra pattern should match case-insensitively")
	}
	if c.Classify(300, "Mozilla/5.0") {
		t.Error("blank extra patterns must not match everything")
	}
}

func TestClassifyCustomThreshold(t *testing.T) {
	c := NewClassifier(60)

	if !c.Classify(45, "") {
		t.Error("45s should be a bot with a 60s threshold")
	}
	if c.Classify(61, "") {
		t.Error("61s should not be a bot with a 60s threshold")
	}
}
