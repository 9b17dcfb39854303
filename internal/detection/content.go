package detection

import (
	"fmt"
	"regexp"
	"strings"

	"mtdguard/internal/common"
)

// Category is the SMS content classification.
type Category string

const (
	CategorySafe     Category = "safe"
	CategorySpam     Category = "spam"
	CategoryPhishing Category = "phishing"
)

// Breakdown dimension names.
const (
	SignalUrgency   = "urgency"
	SignalFinancial = "financial"
	SignalAction    = "action"
	SignalPattern   = "pattern"
)

// ScoreBreakdown maps a named signal to its score in [0,1].
type ScoreBreakdown map[string]float64

// SmsClassification is the ContentScorer output for one message.
type SmsClassification struct {
	Category    Category       `json:"category"`
	Confidence  float64        `json:"confidence"`
	Breakdown   ScoreBreakdown `json:"scores"`
	Features    []string       `json:"features"`
	IsDangerous bool           `json:"is_dangerous"`
}

var (
	urgencyKeywords = []string{
		"urgente", "urgent", "inmediato", "immediate", "ahora", "now",
		"rápido", "quick", "fast", "pronto",
	}

	financialKeywords = []string{
		"banco", "bank", "tarjeta", "card", "cuenta", "account",
		"dinero", "money", "pago", "payment", "transferencia", "transfer",
		"premio", "prize", "ganador", "winner",
	}

	actionKeywords = []string{
		"haz clic", "click here", "verificar", "verify", "confirmar", "confirm",
		"actualizar", "update", "restablecer", "reset", "desbloquear", "unlock",
	}

	smishingPatterns = []string{
		`https?://\S+`,
		`(?:verificar|verify|confirmar|confirm)\s+(?:cuenta|account|identidad|identity)`,
		`(?:premio|prize|ganador|winner)`,
		`(?:suspendida|suspended|bloqueada|blocked)`,
	}
)

const (
	phishingThreshold = 0.6
	spamThreshold     = 0.3
)

// ContentScorer classifies SMS text with fixed keyword and pattern sets.
// It holds no mutable state and is safe for concurrent use.
type ContentScorer struct {
	urgency   []string
	financial []string
	action    []string
	patterns  []*regexp.Regexp
}

func NewContentScorer() *ContentScorer {
	s := &ContentScorer{
		urgency:   urgencyKeywords,
		financial: financialKeywords,
		action:    actionKeywords,
	}
	for _, p := range smishingPatterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p))
	}
	return s
}

// Classify scores message on four dimensions and averages them.
func (s *ContentScorer) Classify(message string) SmsClassification {
	lower := strings.ToLower(message)

	breakdown := ScoreBreakdown{
		SignalUrgency:   0,
		SignalFinancial: 0,
		SignalAction:    0,
		SignalPattern:   0,
	}
	var features []string

	if n := countKeywords(lower, s.urgency); n > 0 {
		breakdown[SignalUrgency] = dimensionScore(n)
		features = append(features, fmt.Sprintf("Contains %d urgency keywords", n))
	}
	if n := countKeywords(lower, s.financial); n > 0 {
		breakdown[SignalFinancial] = dimensionScore(n)
		features = append(features, fmt.Sprintf("Contains %d financial keywords", n))
	}
	if n := countKeywords(lower, s.action); n > 0 {
		breakdown[SignalAction] = dimensionScore(n)
		features = append(features, fmt.Sprintf("Requests %d actions", n))
	}
	if n := s.countPatterns(lower); n > 0 {
		breakdown[SignalPattern] = dimensionScore(n)
		features = append(features, fmt.Sprintf("Matches %d phishing patterns", n))
	}

	sum := breakdown[SignalUrgency] + breakdown[SignalFinancial] + breakdown[SignalAction] + breakdown[SignalPattern]
	confidence := common.Clamp01(sum / 4)

	category := CategorySafe
	switch {
	case confidence > phishingThreshold:
		category = CategoryPhishing
	case confidence > spamThreshold:
		category = CategorySpam
	}

	return SmsClassification{
		Category:    category,
		Confidence:  confidence,
		Breakdown:   breakdown,
		Features:    features,
		IsDangerous: category == CategoryPhishing,
	}
}

func (s *ContentScorer) countPatterns(text string) int {
	n := 0
	for _, re := range s.patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func dimensionScore(count int) float64 {
	return min(float64(count)/2, 1.0)
}
