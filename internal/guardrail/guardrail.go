// Package guardrail implements the input and output policy checks that gate
// the support assistant.
//
// Input checks reject user text that is too short, spammy, or shaped like a
// prompt/SQL/shell injection attempt. Output checks scan generated answers for
// secrets, PII, and advice language the platform must not produce, redacting
// where a safe replacement exists.
//
// All checks are pure functions over strings: no I/O, no errors. A block is a
// normal outcome, not a failure. Detectors are held in ordered tables and
// evaluated first-match-wins; the order is behaviorally significant (an
// AWS-shaped key is classified aws_key_leak even though the generic env-var
// detector would also match it) and must not be reshuffled.
//
// Note: no filter is perfect. These patterns catch common cases; defense in
// depth (schema limits upstream, human escalation downstream) is assumed.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy names attached to blocked results.
const (
	PolicyInputLength     = "input_length"
	PolicySpam            = "spam"
	PolicyPromptInjection = "prompt_injection"

	PolicyAPIKeyLeak      = "api_key_leak"
	PolicyAWSKeyLeak      = "aws_key_leak"
	PolicyPrivateKeyLeak  = "private_key_leak"
	PolicyDBConnLeak      = "db_connection_leak"
	PolicyPIIEmail        = "pii_email"
	PolicyPIIPhone        = "pii_phone"
	PolicyPIIPostcode     = "pii_postcode"
	PolicyCreditCardLeak  = "credit_card_leak"
	PolicyFinancialAdvice = "financial_advice"
	PolicyTradingAdvice   = "trading_advice"
	PolicyConfigLeak      = "config_leak"
)

// Minimum stripped input length accepted by CheckInput.
const MinInputLength = 3

// allCapsThreshold is the length above which an all-uppercase message is
// treated as spam.
const allCapsThreshold = 10

// repeatRunThreshold is the number of consecutive identical characters that
// flags a message as spam.
const repeatRunThreshold = 21

// Result is the outcome of a single policy check.
//
// When Blocked is false, Policy, Reason and Redacted are empty — with one
// documented exception: Engine.SanitizeResponse returns the original text in
// Redacted on the allowed path, mirroring the upstream contract.
type Result struct {
	Blocked  bool
	Policy   string
	Reason   string
	Redacted string
}

// Allowed returns a passing result.
func Allowed() Result {
	return Result{}
}

// blocked builds a blocking result.
func blocked(policy, reason, redacted string) Result {
	return Result{Blocked: true, Policy: policy, Reason: reason, Redacted: redacted}
}

// outputRule is one entry of the ordered output-detector table.
type outputRule struct {
	policy string
	re     *regexp.Regexp

	// reason renders the human-readable block reason; match is the first
	// matching substring.
	reason func(match string) string

	// redact produces the redacted replacement for the whole text.
	// Nil means the policy carries no redaction (advice-language rules).
	redact func(text string, re *regexp.Regexp) string
}

// Engine evaluates guardrail policies. Safe for concurrent use; all state is
// compiled patterns.
type Engine struct {
	injectionKeywords []string
	sqlShape          *regexp.Regexp
	shellMetachars    string

	outputRules    []outputRule
	financialRules []outputRule
	configRules    []outputRule
}

// NewEngine compiles all guardrail patterns.
func NewEngine() *Engine {
	e := &Engine{
		injectionKeywords: []string{
			"system:", "ignore", "forget", "override", "bypass", "admin", "root",
		},
		sqlShape:       regexp.MustCompile(`(?is)(drop|delete|insert|update|union|select).*(from|where|table)`),
		shellMetachars: "$`(){};|&",
	}

	replaceWith := func(repl string) func(string, *regexp.Regexp) string {
		return func(text string, re *regexp.Regexp) string {
			return re.ReplaceAllString(text, repl)
		}
	}
	staticReason := func(msg string) func(string) string {
		return func(string) string { return msg }
	}

	e.outputRules = []outputRule{
		{
			policy: PolicyAPIKeyLeak,
			re: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}` +
				`|(?i:(?:api[_-]?key|secret|token|bearer)["'\s:=]+[A-Za-z0-9_\-]{20,})` +
				`|\b[A-Z0-9]{32,}\b`),
			reason: staticReason("response contains an API-key-like secret"),
			redact: func(text string, re *regexp.Regexp) string {
				return re.ReplaceAllStringFunc(text, func(m string) string {
					if len(m) <= 3 {
						return "[REDACTED]"
					}
					return m[:3] + "[REDACTED]"
				})
			},
		},
		{
			policy: PolicyAWSKeyLeak,
			re:     regexp.MustCompile(`\b(?:AKIA|ASIA|A3T)[A-Z0-9]{16}\b`),
			reason: staticReason("response contains an AWS access key"),
			redact: replaceWith("[AWS_KEY_REDACTED]"),
		},
		{
			policy: PolicyPrivateKeyLeak,
			re:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
			reason: staticReason("response contains a private key block"),
			redact: replaceWith("[PRIVATE_KEY_REDACTED]"),
		},
		{
			policy: PolicyDBConnLeak,
			re:     regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|rediss?)(?:\+[a-z0-9]+)?://\S+`),
			reason: staticReason("response contains a database connection string"),
			redact: replaceWith("[DATABASE_URL_REDACTED]"),
		},
		{
			policy: PolicyPIIEmail,
			re:     regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			reason: staticReason("response contains an email address"),
			redact: replaceWith("[EMAIL_REDACTED]"),
		},
		{
			policy: PolicyPIIPhone,
			re: regexp.MustCompile(`(?:\+44\s?7|\b07)\d{3}\s?\d{3}\s?\d{3}\b` +
				`|(?:\+44\s?|\b0)\d{3}\s?\d{3}\s?\d{4}\b` +
				`|(?:\+44\s?|\b0)\d{2}\s?\d{4}\s?\d{4}\b`),
			reason: staticReason("response contains a phone number"),
			redact: replaceWith("[PHONE_REDACTED]"),
		},
		{
			policy: PolicyPIIPostcode,
			re:     regexp.MustCompile(`\b[A-Z]{1,2}[0-9][A-Z0-9]?\s?[0-9][A-Z]{2}\b`),
			reason: staticReason("response contains a postcode"),
			redact: replaceWith("[POSTCODE_REDACTED]"),
		},
		{
			policy: PolicyCreditCardLeak,
			re: regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?` +
				`|5[1-5][0-9]{14}` +
				`|3[47][0-9]{13}` +
				`|6(?:011|5[0-9]{2})[0-9]{12}` +
				`|3(?:0[0-5]|[68][0-9])[0-9]{11})\b`),
			reason: staticReason("response contains a payment card number"),
			redact: replaceWith("[CARD_REDACTED]"),
		},
	}

	e.financialRules = []outputRule{
		{
			policy: PolicyFinancialAdvice,
			re:     regexp.MustCompile(`(?i)guaranteed\s+(?:returns?|profits?)|risk[-\s]?free|can'?t\s+lose|cannot\s+lose|no\s+risk`),
			reason: func(match string) string {
				return fmt.Sprintf("financial advice language: %q", match)
			},
		},
		{
			policy: PolicyTradingAdvice,
			re:     regexp.MustCompile(`(?i)100%\s+win\s+rate|never\s+lose|always\s+wins?|guaranteed\s+pips|sure\s+thing`),
			reason: func(match string) string {
				return fmt.Sprintf("trading advice language: %q", match)
			},
		},
	}

	e.configRules = []outputRule{
		{
			policy: PolicyConfigLeak,
			re:     regexp.MustCompile(`\b([A-Z][A-Z0-9_]*(?:KEY|SECRET|TOKEN|PASSWORD|URL|URI|ID))\s*=\s*\S{10,}`),
			reason: staticReason("response contains a configuration secret assignment"),
			redact: replaceWith("$1=[REDACTED]"),
		},
	}

	// The full battery evaluated by CheckOutput, in precedence order.
	e.outputRules = append(e.outputRules, e.financialRules...)
	e.outputRules = append(e.outputRules, e.configRules...)

	return e
}

// CheckInput decides whether a piece of user text may enter the pipeline.
//
// Rules run in fixed precedence order and short-circuit on first match:
// length → all-caps spam → repeated-character spam → injection keywords →
// SQL shape → shell metacharacters.
func (e *Engine) CheckInput(text string) Result {
	stripped := strings.TrimSpace(text)
	if utf8.RuneCountInString(stripped) < MinInputLength {
		return blocked(PolicyInputLength, "message too short", "")
	}

	if utf8.RuneCountInString(stripped) > allCapsThreshold && isAllUpper(stripped) {
		return blocked(PolicySpam, "message is all caps", "")
	}

	if hasRepeatedRun(stripped, repeatRunThreshold) {
		return blocked(PolicySpam, "message contains excessive repeated characters", "")
	}

	lowered := strings.ToLower(stripped)
	for _, kw := range e.injectionKeywords {
		if strings.Contains(lowered, kw) {
			return blocked(PolicyPromptInjection, fmt.Sprintf("suspicious keyword %q", kw), "")
		}
	}

	if e.sqlShape.MatchString(stripped) {
		return blocked(PolicyPromptInjection, "message matches a SQL injection pattern", "")
	}

	if strings.ContainsAny(stripped, e.shellMetachars) {
		return blocked(PolicyPromptInjection, "message contains shell metacharacters", "")
	}

	return Allowed()
}

// CheckOutput scans generated text against the full detector battery.
// The first matching detector wins and determines policy and redaction.
func (e *Engine) CheckOutput(text string) Result {
	return runRules(text, e.outputRules)
}

// CheckFinancialAdvice scans text against the advice-language detectors only.
func (e *Engine) CheckFinancialAdvice(text string) Result {
	return runRules(text, e.financialRules)
}

// CheckConfigLeak scans text against the env-var secret-assignment detector only.
func (e *Engine) CheckConfigLeak(text string) Result {
	return runRules(text, e.configRules)
}

// SanitizeResponse runs CheckOutput, CheckFinancialAdvice and CheckConfigLeak
// in sequence, short-circuiting on the first block.
//
// On the allowed path it returns Redacted set to the original text. This
// differs from CheckOutput's allowed contract (empty Redacted) and is kept
// intentionally: callers of SanitizeResponse treat Redacted as "the text that
// is safe to send".
func (e *Engine) SanitizeResponse(text string) Result {
	if r := e.CheckOutput(text); r.Blocked {
		return r
	}
	if r := e.CheckFinancialAdvice(text); r.Blocked {
		return r
	}
	if r := e.CheckConfigLeak(text); r.Blocked {
		return r
	}
	return Result{Redacted: text}
}

// runRules evaluates an ordered rule table, first match wins.
func runRules(text string, rules []outputRule) Result {
	for _, rule := range rules {
		match := rule.re.FindString(text)
		if match == "" {
			continue
		}
		redacted := ""
		if rule.redact != nil {
			redacted = rule.redact(text, rule.re)
		}
		return blocked(rule.policy, rule.reason(match), redacted)
	}
	return Allowed()
}

// isAllUpper reports whether s contains at least one letter and no lowercase
// letters. Digits and punctuation are ignored, matching the upstream
// "isupper" semantics.
func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// hasRepeatedRun reports whether s contains n or more consecutive identical
// runes. RE2 has no backreferences, so this is a plain scan.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
