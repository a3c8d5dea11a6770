package leads

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// DedupCandidate holds the fields used to compute a dedup hash for a lead.
// Phone should be pre-normalized with NormalizePhone so that formatting
// differences ("(416) 555-0199" vs "4165550199") never defeat the check.
type DedupCandidate struct {
	Email         string
	Phone         string
	InsuranceType string
}

var (
	collapseSpaces = regexp.MustCompile(`\s{2,}`)
	nonDigits      = regexp.MustCompile(`\D`)
)

// NormalizePhone strips everything but digits and drops a leading country 1
// so North American numbers hash identically regardless of formatting.
func NormalizePhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// BuildDedupHash computes a deterministic SHA-256 hash from the candidate fields.
//
// Hash input format: "email|phone|insurance_type" where:
//   - email is lowercased and trimmed
//   - phone is the digit-only normalized form
//   - insurance_type is lowercased and trimmed
//
// The same prospect inquiring twice about the same line of insurance hashes
// to the same value even when a different channel submitted the lead.
func BuildDedupHash(candidate DedupCandidate) string {
	email := strings.ToLower(strings.TrimSpace(candidate.Email))
	phone := NormalizePhone(candidate.Phone)
	line := strings.ToLower(strings.TrimSpace(candidate.InsuranceType))
	line = collapseSpaces.ReplaceAllString(line, " ")
	if email == "" && phone == "" {
		return ""
	}
	payload := strings.Join([]string{email, phone, line}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
