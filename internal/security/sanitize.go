package security

import (
	"regexp"

	"golang.org/x/text/width"
)

type redactPattern struct {
	name string
	re   *regexp.Regexp
}

// secretPatterns is a fixed set of regexes for API-key-looking tokens,
// bearer tokens, private-key blocks, generic SECRET= assignments, and JWTs.
var secretPatterns = []redactPattern{
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{10,}`)},
	{"generic_secret_assignment", regexp.MustCompile(`(?i)\b[A-Z0-9_]*SECRET[A-Z0-9_]*\s*=\s*\S+`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
}

const redactedPlaceholder = "[REDACTED]"

// SanitizeOutput scrubs text of secrets before it is persisted to context
// or returned to a channel. It is idempotent: sanitizing already-sanitized
// text is a no-op.
func SanitizeOutput(text string) SanitizeResult {
	// Normalize width variants (fullwidth/halfwidth lookalikes) so obfuscated
	// secrets still match the ASCII patterns above.
	normalized := width.Narrow.String(text)

	clean := normalized
	var patterns []string
	seen := make(map[string]bool)
	for _, p := range secretPatterns {
		if p.re.MatchString(clean) {
			clean = p.re.ReplaceAllString(clean, redactedPlaceholder)
			if !seen[p.name] {
				seen[p.name] = true
				patterns = append(patterns, p.name)
			}
		}
	}

	return SanitizeResult{
		Clean:            clean,
		Redacted:         len(patterns) > 0,
		RedactedPatterns: patterns,
	}
}

var (
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
		regexp.MustCompile(`(?i)disregard (the )?(system|above) prompt`),
		regexp.MustCompile(`(?i)you are now (in )?(developer|dan|jailbreak) mode`),
		regexp.MustCompile(`(?i)reveal (your |the )?system prompt`),
	}
	exfiltrationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)send (this|the following|all) (data|files|secrets) to`),
		regexp.MustCompile(`(?i)post (this|it) to https?://`),
		regexp.MustCompile(`(?i)curl .* \| *sh`),
	}
)

// ValidateInput heuristically detects prompt-injection and
// data-exfiltration patterns in freeform user/LLM text.
func ValidateInput(text string, historyHint string) InputDecision {
	var threats []string
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			threats = append(threats, "prompt_injection")
			break
		}
	}
	for _, re := range exfiltrationPatterns {
		if re.MatchString(text) {
			threats = append(threats, "data_exfiltration")
			break
		}
	}
	return InputDecision{Safe: len(threats) == 0, Threats: threats}
}
