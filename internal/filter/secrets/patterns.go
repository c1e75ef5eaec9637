package secrets

import "regexp"

type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns covers cloud credentials, model provider keys and connection strings.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "AWS Access Key", Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
		{Name: "GCP Service Account Key", Regex: regexp.MustCompile(`"private_key":\s*"-----BEGIN`)},
		{Name: "GitHub Token", Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
		{Name: "Stripe Secret Key", Regex: regexp.MustCompile(`sk_live_[A-Za-z0-9]{24,}`)},
		{Name: "Anthropic API Key", Regex: regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{32,}`)},
		{Name: "OpenAI API Key", Regex: regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9]{20}T3BlbkFJ[A-Za-z0-9]{20}|sk-proj-[A-Za-z0-9_\-]{40,}`)},
		{Name: "Google API Key", Regex: regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)},
		{Name: "Chorus API Key", Regex: regexp.MustCompile(`chorus-[a-z]+-[a-z0-9]{32}\b`)},
		{Name: "Private Key", Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
		{Name: "Connection String", Regex: regexp.MustCompile(`(?:postgres|postgresql|mysql|mongodb|redis)://[^\s]+`)},
		{Name: "JWT Token", Regex: regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)},
	}
}
