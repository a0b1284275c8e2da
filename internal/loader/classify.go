package loader

import (
	"strings"

	"github.com/rewired-gh/survivorship/internal/models"
)

// Classify maps an operation label from the registry ("NUEVAS INSCRIPCIONES",
// "BAJA", "FUSIÓN DE FONDOS DE INVERSIÓN", ...) to an event type.
// A label that opens with a registration word is a registration even when it
// mentions a merger: "Alta por fusión" is the fund born from the merger.
func Classify(label string) (models.EventType, bool) {
	n := normalizeLabel(label)
	if n == "" {
		return "", false
	}
	switch {
	case hasAnyPrefix(n, "alta", "nueva", "inscripcion", "registration"):
		return models.Registration, true
	case strings.Contains(n, "fusion"), strings.Contains(n, "merger"):
		return models.Merger, true
	case strings.Contains(n, "baja"), strings.Contains(n, "liquidacion"),
		strings.Contains(n, "extincion"), strings.Contains(n, "disolucion"),
		strings.Contains(n, "deregistration"):
		return models.Deregistration, true
	case strings.Contains(n, "alta"), strings.Contains(n, "inscripcion"),
		strings.Contains(n, "nueva"), strings.Contains(n, "registration"):
		return models.Registration, true
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
