package fraud

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Attempt is the payment attempt under evaluation.
type Attempt struct {
	OrderID         uuid.UUID
	PaymentID       uuid.UUID
	Email           string
	GatewayEmail    string
	IP              string
	AmountMinor     int64
	Currency        enums.Currency
	ShippingCountry string
	Card            *gateway.Card
}

// History is what the scorer knows about prior activity.
type History struct {
	EmailAttempts    int64
	IPAttempts       int64
	OrderAttempts    int64
	PaidOrderCount   int64
	AveragePaidMinor int64
}

type Factor struct {
	Code   string `json:"code"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

type Assessment struct {
	Score          int                      `json:"score"`
	Level          enums.RiskLevel          `json:"level"`
	Recommendation enums.RiskRecommendation `json:"recommendation"`
	Factors        []Factor                 `json:"factors"`
}

// ShouldBlock reports whether the attempt must be rejected.
func (a Assessment) ShouldBlock() bool {
	return a.Recommendation == enums.RecommendBlock && a.Level == enums.RiskLevelHigh
}

// ShouldFlag reports whether an allowed attempt needs a monitoring entry.
func (a Assessment) ShouldFlag() bool {
	return !a.ShouldBlock() && (a.Level == enums.RiskLevelHigh || a.Score >= 60)
}

// Scorer evaluates an attempt. Implementations must not mutate state.
type Scorer interface {
	Assess(attempt Attempt, history History) Assessment
}

// Rules are the thresholds and lists the heuristic scorer uses.
type Rules struct {
	HighAmountMinor   int64
	BlockedIPs        []string
	HighRiskBINs      []string
	DisposableDomains []string
}

func RulesFromConfig(cfg config.FraudConfig) Rules {
	return Rules{
		HighAmountMinor:   cfg.HighAmountMinor,
		BlockedIPs:        cfg.BlockedIPs,
		HighRiskBINs:      cfg.HighRiskBINs,
		DisposableDomains: cfg.DisposableDomains,
	}
}

// HeuristicScorer adds fixed points per matched signal.
type HeuristicScorer struct {
	highAmount  int64
	blockedIPs  map[string]struct{}
	riskyBINs   []string
	disposables map[string]struct{}
}

var _ Scorer = (*HeuristicScorer)(nil)

func NewHeuristicScorer(rules Rules) *HeuristicScorer {
	return &HeuristicScorer{
		highAmount:  rules.HighAmountMinor,
		blockedIPs:  toSet(rules.BlockedIPs),
		riskyBINs:   trimAll(rules.HighRiskBINs),
		disposables: toSet(rules.DisposableDomains),
	}
}

func (s *HeuristicScorer) Assess(attempt Attempt, history History) Assessment {
	var factors []Factor
	add := func(code string, points int, detail string) {
		factors = append(factors, Factor{Code: code, Points: points, Detail: detail})
	}

	ip := strings.TrimSpace(attempt.IP)
	if _, blocked := s.blockedIPs[strings.ToLower(ip)]; ip != "" && blocked {
		add("blocked_ip", 100, ip)
	}

	switch {
	case history.EmailAttempts > 5:
		add("email_velocity", 25, "more than 5 attempts in window")
	case history.EmailAttempts > 3:
		add("email_velocity", 15, "more than 3 attempts in window")
	}
	switch {
	case history.IPAttempts > 10:
		add("ip_velocity", 25, "more than 10 attempts in window")
	case history.IPAttempts > 5:
		add("ip_velocity", 10, "more than 5 attempts in window")
	}
	if history.OrderAttempts >= 3 {
		add("repeated_order_attempts", 20, "")
	}

	if s.highAmount > 0 && attempt.AmountMinor >= s.highAmount {
		add("high_amount", 20, "")
	}
	if history.PaidOrderCount >= 2 && history.AveragePaidMinor > 0 && attempt.AmountMinor > 5*history.AveragePaidMinor {
		add("amount_anomaly", 15, "more than 5x customer average")
	}

	orderEmail := strings.ToLower(strings.TrimSpace(attempt.Email))
	gatewayEmail := strings.ToLower(strings.TrimSpace(attempt.GatewayEmail))
	if orderEmail != "" && gatewayEmail != "" && orderEmail != gatewayEmail {
		add("email_mismatch", 10, "")
	}
	if _, disposable := s.disposables[emailDomain(orderEmail)]; disposable {
		add("disposable_email", 20, emailDomain(orderEmail))
	}

	if card := attempt.Card; card != nil {
		for _, bin := range s.riskyBINs {
			if bin != "" && strings.HasPrefix(card.BIN, bin) {
				add("high_risk_bin", 25, bin)
				break
			}
		}
		cardCountry := strings.ToUpper(strings.TrimSpace(card.Country))
		shipCountry := strings.ToUpper(strings.TrimSpace(attempt.ShippingCountry))
		if cardCountry != "" && shipCountry != "" && cardCountry != shipCountry {
			add("country_mismatch", 15, cardCountry+"->"+shipCountry)
		}
	}

	score := 0
	for _, f := range factors {
		score += f.Points
	}
	score = max(0, min(100, score))

	return Assessment{
		Score:          score,
		Level:          LevelFor(score),
		Recommendation: RecommendationFor(score),
		Factors:        factors,
	}
}

func LevelFor(score int) enums.RiskLevel {
	switch {
	case score < 40:
		return enums.RiskLevelLow
	case score < 70:
		return enums.RiskLevelMedium
	default:
		return enums.RiskLevelHigh
	}
}

func RecommendationFor(score int) enums.RiskRecommendation {
	switch {
	case score < 50:
		return enums.RecommendAllow
	case score < 80:
		return enums.RecommendFlag
	default:
		return enums.RecommendBlock
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range trimAll(values) {
		if v != "" {
			out[strings.ToLower(v)] = struct{}{}
		}
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
