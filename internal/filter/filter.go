// Package filter holds the static rule sets applied to incoming headers: a
// sender/subject substring blocklist and the check-in (bilan) keyword rules.
// These are plain rule evaluators, not classifiers.
package filter

import "strings"

// subjectKeywords flag a header as a potential weekly check-in before the
// body is available.
var subjectKeywords = []string{
	"bilan", "semaine", "update", "suivi", "retour", "feedback",
	"progression", "photo", "poids",
}

// positiveKeywords and negativeKeywords score a fully loaded message.
var positiveKeywords = []string{
	"bilan", "semaine", "update", "suivi", "retour", "feedback",
	"progression", "evolution", "photo", "poids", "mesure",
	"entrainement", "training", "seance", "programme",
	"resultats", "objectif", "coach", "coaching",
}

var negativeKeywords = []string{
	"newsletter", "promo", "soldes", "unsubscribe", "desinscription",
	"publicite", "pub", "offre", "reduction",
}

// Blocklist is a substring blocklist over sender addresses and subjects.
// An empty blocklist matches nothing.
type Blocklist struct {
	Senders  []string
	Subjects []string
}

// IsSpam reports whether a header matches the blocklist. Matching is
// case-insensitive substring containment.
func (b Blocklist) IsSpam(sender, subject string) bool {
	sender = strings.ToLower(sender)
	subject = strings.ToLower(subject)

	for _, blocked := range b.Senders {
		if blocked != "" && strings.Contains(sender, strings.ToLower(blocked)) {
			return true
		}
	}

	for _, blocked := range b.Subjects {
		if blocked != "" && strings.Contains(subject, strings.ToLower(blocked)) {
			return true
		}
	}

	return false
}

// IsPotentialCheckin reports whether a subject line alone suggests a client
// check-in. Used on the header-only sync path where no body is available yet.
func IsPotentialCheckin(subject string) bool {
	text := strings.ToLower(subject)
	for _, kw := range subjectKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ScoreCheckin applies the full check-in rule once a body is loaded: positive
// keywords count +1, negative keywords count -2, image attachments add +2.
// A score of 2 or more means the message is treated as a check-in.
func ScoreCheckin(subject, body string, hasImageAttachment bool) bool {
	text := strings.ToLower(subject + " " + body)

	score := 0
	for _, kw := range positiveKeywords {
		if strings.Contains(text, kw) {
			score++
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(text, kw) {
			score -= 2
		}
	}

	if hasImageAttachment {
		score += 2
	}

	return score >= 2
}
