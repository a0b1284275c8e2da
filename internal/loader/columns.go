package loader

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a logical column of an event source.
type Field string

const (
	FieldEntityID   Field = "entity_id"
	FieldName       Field = "name"
	FieldType       Field = "event_type"
	FieldDate       Field = "event_date"
	FieldFilename   Field = "filename"
	FieldManager    Field = "manager"
	FieldDepositary Field = "depositary"
)

// DefaultAliases maps each field to the header names seen across registry extracts,
// most specific first. Names are compared after normalizeLabel.
var DefaultAliases = map[Field][]string{
	FieldEntityID:   {"Nº_Registro", "N_Registro", "Num_Registro", "Numero_Registro", "Registro", "entity_id"},
	FieldName:       {"Denominacion", "Nombre_Fondo", "Nombre", "name"},
	FieldType:       {"Tipo_Operacion", "Operacion", "Tipo", "event_type"},
	FieldDate:       {"Fecha_Parsed", "Fecha_Evento", "event_date"},
	FieldFilename:   {"Archivo", "Nombre_Archivo", "Fichero", "Boletin", "filename", "source_file"},
	FieldManager:    {"Gestora", "Sociedad_Gestora", "manager"},
	FieldDepositary: {"Depositaria", "Entidad_Depositaria", "depositary"},
}

// normalizeLabel folds a header or label to lower-case ASCII-ish words joined by
// underscores: "Nº Registro" and "no_registro" compare equal.
func normalizeLabel(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pending := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// columnMap resolves fields to header positions.
type columnMap map[Field]int

func resolveColumns(header []string, aliases map[Field][]string) columnMap {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeLabel(h)
		if _, dup := idx[key]; !dup && key != "" {
			idx[key] = i
		}
	}

	cols := make(columnMap)
	for field, names := range aliases {
		for _, name := range names {
			if i, ok := idx[normalizeLabel(name)]; ok {
				cols[field] = i
				break
			}
		}
	}
	return cols
}

func (c columnMap) has(f Field) bool {
	_, ok := c[f]
	return ok
}

// cell returns the trimmed value of a field, or "" when the column is absent or the
// row is short (spreadsheets omit trailing empty cells).
func (c columnMap) cell(record []string, f Field) string {
	i, ok := c[f]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func mergeAliases(overrides map[Field][]string) map[Field][]string {
	merged := make(map[Field][]string, len(DefaultAliases))
	for f, names := range DefaultAliases {
		merged[f] = names
	}
	for f, names := range overrides {
		if len(names) > 0 {
			merged[f] = append(append([]string(nil), names...), merged[f]...)
		}
	}
	return merged
}
