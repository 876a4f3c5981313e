package enums

import "fmt"

// ReportVariant is the filing variant recorded in report bookkeeping metadata.
type ReportVariant string

const (
	ReportVariantOriginal ReportVariant = "original"
	ReportVariantAmended  ReportVariant = "amended"
	ReportVariantFinal    ReportVariant = "final"
)

var validReportVariants = []ReportVariant{
	ReportVariantOriginal,
	ReportVariantAmended,
	ReportVariantFinal,
}

func (v ReportVariant) IsValid() bool {
	for _, candidate := range validReportVariants {
		if candidate == v {
			return true
		}
	}
	return false
}

func ParseReportVariant(value string) (ReportVariant, error) {
	for _, candidate := range validReportVariants {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid report variant %q", value)
}
