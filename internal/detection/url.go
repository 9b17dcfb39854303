package detection

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"mtdguard/internal/common"
)

// URLFeatures are the lexical features extracted from a raw URL string.
type URLFeatures struct {
	Length               int     `json:"url_length"`
	DomainLength         int     `json:"domain_length"`
	Dots                 int     `json:"num_dots"`
	Hyphens              int     `json:"num_hyphens"`
	Underscores          int     `json:"num_underscores"`
	Slashes              int     `json:"num_slashes"`
	Digits               int     `json:"num_digits"`
	Entropy              float64 `json:"entropy"`
	HasSuspiciousKeyword bool    `json:"has_suspicious_keyword"`
	HasSuspiciousTLD     bool    `json:"has_suspicious_tld"`
	HasIPAddress         bool    `json:"has_ip_address"`
}

// URLPrediction is the reputation verdict for one URL.
type URLPrediction struct {
	URL         string      `json:"url"`
	IsMalicious bool        `json:"is_malicious"`
	Confidence  float64     `json:"confidence"`
	Features    URLFeatures `json:"features"`
	Reasons     []string    `json:"reasons"`
}

type urlRule struct {
	weight float64
	reason string
	hit    func(URLFeatures) bool
}

// Evaluated in this order; reasons follow the same order.
var urlRules = []urlRule{
	{0.20, "Unusually long URL", func(f URLFeatures) bool { return f.Length > 75 }},
	{0.15, "High entropy (randomness)", func(f URLFeatures) bool { return f.Entropy > 4.0 }},
	{0.30, "Contains phishing keywords", func(f URLFeatures) bool { return f.HasSuspiciousKeyword }},
	{0.25, "Suspicious top-level domain", func(f URLFeatures) bool { return f.HasSuspiciousTLD }},
	{0.20, "URL contains IP address", func(f URLFeatures) bool { return f.HasIPAddress }},
	{0.10, "Excessive hyphens", func(f URLFeatures) bool { return f.Hyphens > 3 }},
}

var (
	suspiciousURLKeywords = []string{
		"login", "verify", "account", "secure", "update",
		"suspended", "blocked", "urgent", "winner", "prize",
	}

	suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq"}

	ipv4Pattern   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	domainPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?([^/]+)`)
)

const maliciousURLThreshold = 0.5

// URLScorer scores URL reputation from lexical features. Predictions are
// memoized; the scoring itself is deterministic.
type URLScorer struct {
	keywords []string
	tlds     []string
	cache    *ResultCache[URLPrediction]
}

func NewURLScorer() *URLScorer {
	return &URLScorer{
		keywords: suspiciousURLKeywords,
		tlds:     suspiciousTLDs,
		cache:    NewResultCache[URLPrediction]("url_reputation", 10000, 10*time.Minute),
	}
}

// Close releases the prediction cache sweeper.
func (s *URLScorer) Close() { s.cache.Close() }

func (s *URLScorer) ExtractFeatures(url string) URLFeatures {
	lower := strings.ToLower(url)

	f := URLFeatures{
		Length:       utf8.RuneCountInString(url),
		DomainLength: utf8.RuneCountInString(extractDomain(url)),
		Dots:         strings.Count(url, "."),
		Hyphens:      strings.Count(url, "-"),
		Underscores:  strings.Count(url, "_"),
		Slashes:      strings.Count(url, "/"),
		Entropy:      shannonEntropy(url),
		HasIPAddress: ipv4Pattern.MatchString(url),
	}
	for _, r := range url {
		if unicode.IsDigit(r) {
			f.Digits++
		}
	}
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			f.HasSuspiciousKeyword = true
			break
		}
	}
	for _, tld := range s.tlds {
		if strings.HasSuffix(url, tld) {
			f.HasSuspiciousTLD = true
			break
		}
	}
	return f
}

// Predict applies the weighted rules to the URL's features.
func (s *URLScorer) Predict(url string) URLPrediction {
	key := cacheKey("url", url)
	if cached, ok := s.cache.Get(key); ok {
		return clonePrediction(cached)
	}

	features := s.ExtractFeatures(url)
	score := 0.0
	reasons := []string{}
	for _, rule := range urlRules {
		if rule.hit(features) {
			score += rule.weight
			reasons = append(reasons, rule.reason)
		}
	}

	confidence := common.Clamp01(score)
	p := URLPrediction{
		URL:         url,
		IsMalicious: confidence > maliciousURLThreshold,
		Confidence:  confidence,
		Features:    features,
		Reasons:     reasons,
	}
	s.cache.Set(key, p)
	return clonePrediction(p)
}

func clonePrediction(p URLPrediction) URLPrediction {
	p.Reasons = append([]string{}, p.Reasons...)
	return p
}

func extractDomain(url string) string {
	if m := domainPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return url
}

// shannonEntropy returns the entropy in bits of the character distribution of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	runes := make([]rune, 0, len(freq))
	for r := range freq {
		runes = append(runes, r)
	}
	slices.Sort(runes)

	entropy := 0.0
	for _, r := range runes {
		p := float64(freq[r]) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
