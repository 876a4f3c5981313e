package enums

import (
	"fmt"
	"strings"
)

// ReportSchema identifies one of the three monthly government report shapes.
type ReportSchema string

const (
	// ReportSchemaA is the monthly report of production operations (TTB F 5110.40).
	ReportSchemaA ReportSchema = "A"
	// ReportSchemaB is the monthly report of processing operations (TTB F 5110.28).
	ReportSchemaB ReportSchema = "B"
	// ReportSchemaC is the monthly report of storage operations (TTB F 5110.11).
	ReportSchemaC ReportSchema = "C"
)

var validReportSchemas = []ReportSchema{
	ReportSchemaA,
	ReportSchemaB,
	ReportSchemaC,
}

var formNumbers = map[ReportSchema]string{
	ReportSchemaA: "5110.40",
	ReportSchemaB: "5110.28",
	ReportSchemaC: "5110.11",
}

// ReportSchemas returns the schemas in canonical order.
func ReportSchemas() []ReportSchema {
	out := make([]ReportSchema, len(validReportSchemas))
	copy(out, validReportSchemas)
	return out
}

func (s ReportSchema) IsValid() bool {
	for _, candidate := range validReportSchemas {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s ReportSchema) String() string {
	return string(s)
}

// FormNumber returns the government form identifier for the schema.
func (s ReportSchema) FormNumber() string {
	return formNumbers[s]
}

// ParseReportSchema accepts the schema letter or the form number, with either a dot or a dash.
func ParseReportSchema(value string) (ReportSchema, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, "TTB")
	normalized = strings.TrimSpace(strings.ReplaceAll(normalized, "-", "."))
	for _, candidate := range validReportSchemas {
		if string(candidate) == normalized || formNumbers[candidate] == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid report schema %q", value)
}
