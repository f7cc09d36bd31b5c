package ledgersync

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"homeledger/internal/domain/account"
	"homeledger/internal/infrastructure/xero"
)

const (
	reasonAccountNumber = "account number matches exactly"
	reasonExactName     = "name matches exactly"
	reasonContainment   = "name contains the other"
	reasonWordOverlap   = "names share significant words"
	reasonManualLink    = "manually linked"
)

// Words up to this many characters are ignored by the word-overlap rule.
const shortWordLength = 2

// MatchConfig holds the matcher thresholds. Similarities and confidences are
// percentages; factors scale a similarity into a confidence.
type MatchConfig struct {
	AccountNumberConfidence int
	ExactNameSimilarity     int
	ExactNameConfidence     int
	ContainmentConfidence   int
	FuzzyNameSimilarity     int
	FuzzyNameFactor         float64
	TypeSimilarity          int
	TypeFactor              float64
	ActionableConfidence    int
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		AccountNumberConfidence: 95,
		ExactNameSimilarity:     90,
		ExactNameConfidence:     85,
		ContainmentConfidence:   70,
		FuzzyNameSimilarity:     70,
		FuzzyNameFactor:         0.8,
		TypeSimilarity:          50,
		TypeFactor:              0.7,
		ActionableConfidence:    50,
	}
}

// MatchResult is the score of one remote/local pair. Confidence is in
// [0,100]; Reason is empty when nothing matched.
type MatchResult struct {
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// Matcher scores remote accounts against local accounts. It holds no state
// besides its configuration.
type Matcher struct {
	cfg MatchConfig
}

func NewMatcher(cfg MatchConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Actionable reports whether a result is strong enough to suggest.
func (m *Matcher) Actionable(r MatchResult) bool {
	return r.Confidence >= m.cfg.ActionableConfidence
}

// Match applies the rules in priority order; the first rule that fires
// decides the result.
func (m *Matcher) Match(remote xero.Account, local *account.Account) MatchResult {
	if local == nil {
		return MatchResult{}
	}

	remoteNumber := normalizeAccountNumber(remote.BankAccountNumber)
	if remoteNumber != "" && remoteNumber == normalizeAccountNumber(local.AccountNumber) {
		return MatchResult{Confidence: clampConfidence(m.cfg.AccountNumberConfidence), Reason: reasonAccountNumber}
	}

	remoteName := normalizeName(remote.Name)
	localName := normalizeName(local.Name)
	similarity := nameSimilarity(remoteName, localName)

	if similarity >= m.cfg.ExactNameSimilarity {
		return MatchResult{Confidence: clampConfidence(m.cfg.ExactNameConfidence), Reason: reasonExactName}
	}

	if reason := containment(remoteName, localName); reason != "" {
		return MatchResult{Confidence: clampConfidence(m.cfg.ContainmentConfidence), Reason: reason}
	}

	if similarity >= m.cfg.FuzzyNameSimilarity {
		return MatchResult{
			Confidence: scale(similarity, m.cfg.FuzzyNameFactor),
			Reason:     fmt.Sprintf("similar name (%d%%)", similarity),
		}
	}

	if typesCompatible(remote.Kind(), local.AccountType) && similarity >= m.cfg.TypeSimilarity {
		return MatchResult{
			Confidence: scale(similarity, m.cfg.TypeFactor),
			Reason:     fmt.Sprintf("same account type, name %d%% similar", similarity),
		}
	}

	return MatchResult{}
}

// BestMatch returns the local account with the highest confidence. Ties keep
// the earliest candidate. A nil account means nothing scored above zero.
func (m *Matcher) BestMatch(remote xero.Account, locals []*account.Account) (*account.Account, MatchResult) {
	var best *account.Account
	var bestResult MatchResult

	for _, local := range locals {
		r := m.Match(remote, local)
		if r.Confidence > bestResult.Confidence {
			best, bestResult = local, r
		}
	}
	return best, bestResult
}

func normalizeAccountNumber(s string) string {
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	s = strings.TrimLeft(s, "0")
	return strings.ToLower(s)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// nameSimilarity is 100 minus the edit distance as a percentage of the
// longer name, rounded.
func nameSimilarity(a, b string) int {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round((1 - float64(dist)/float64(maxLen)) * 100))
}

// containment fires when one name contains the other, or when at least half
// of either name's significant words appear in the other name.
func containment(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return reasonContainment
	}
	if wordsCovered(a, b) || wordsCovered(b, a) {
		return reasonWordOverlap
	}
	return ""
}

func wordsCovered(name, other string) bool {
	total, found := 0, 0
	for _, w := range strings.Fields(name) {
		if utf8.RuneCountInString(w) <= shortWordLength {
			continue
		}
		total++
		if strings.Contains(other, w) {
			found++
		}
	}
	return total > 0 && found*2 >= total
}

// remoteCategory folds a remote account kind into a local account type.
func remoteCategory(kind string) string {
	kind = strings.ToUpper(kind)
	switch {
	case strings.Contains(kind, "CREDIT"):
		return account.TypeCredit
	case strings.Contains(kind, "PAYPAL"), strings.Contains(kind, "WALLET"):
		return account.TypeWallet
	}
	return account.TypeBank
}

func typesCompatible(remoteKind, localType string) bool {
	remote := remoteCategory(remoteKind)
	if remote == localType {
		return true
	}
	depository := func(t string) bool { return t == account.TypeBank || t == account.TypeWallet }
	return depository(remote) && depository(localType)
}

func scale(similarity int, factor float64) int {
	return clampConfidence(int(math.Round(float64(similarity) * factor)))
}

func clampConfidence(c int) int {
	return min(max(c, 0), 100)
}
