package report

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormatInvalid is returned when an indicators report is missing one
// or more of the required labels. The session stays open so the user can
// resend a corrected report.
var ErrFormatInvalid = errors.New("formato de indicadores inválido")

// indicatorLabels is the fixed, ordered set of labels an indicators
// report must contain. The order also defines the spreadsheet columns.
var indicatorLabels = []string{
	"Visitas Planeadas",
	"Visitas Realizadas",
	"OC Extra",
	"Cotizaciones",
	"Detalle de la venta",
	"Clientes Nuevos",
}

// Labels returns the required indicator labels in column order.
func Labels() []string {
	out := make([]string, len(indicatorLabels))
	copy(out, indicatorLabels)
	return out
}

// ParseIndicators parses a free-form report where each line may carry a
// "label : value" pair. Label matching is case-insensitive; if a label
// appears more than once the last occurrence wins. Values are trimmed of
// surrounding whitespace and quote characters.
//
// Parsing is all-or-nothing: every label must be present, otherwise
// ErrFormatInvalid is returned (wrapped with the missing labels) and no
// partial result is produced.
func ParseIndicators(text string) (map[string]string, error) {
	canonical := make(map[string]string, len(indicatorLabels))
	for _, l := range indicatorLabels {
		canonical[strings.ToLower(l)] = l
	}

	values := make(map[string]string, len(indicatorLabels))
	for _, line := range strings.Split(text, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label, ok := canonical[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		values[label] = trimValue(v)
	}

	var missing []string
	for _, l := range indicatorLabels {
		if _, ok := values[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: faltan %s", ErrFormatInvalid, strings.Join(missing, ", "))
	}
	return values, nil
}

func trimValue(v string) string {
	v = strings.TrimSpace(v)
	return strings.Trim(v, `"'“”`)
}
