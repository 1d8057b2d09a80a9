package stats

import "github.com/variantstore/variantstore/internal/store"

// VariantAnalysis decorates one variant's live totals with its confidence
// interval.
type VariantAnalysis struct {
	Result  store.VariantResult
	CILower float64
	CIUpper float64
}

// Analysis is the per-experiment summary shown by the results command.
type Analysis struct {
	Variants []VariantAnalysis

	// Leading indexes the variant with the highest transformation, -1 when no
	// variant has any conversions.
	Leading int
}

// Analyze computes 95% intervals for each result and marks the leading
// variant.
func Analyze(results []store.VariantResult) Analysis {
	analysis := Analysis{
		Variants: make([]VariantAnalysis, len(results)),
		Leading:  -1,
	}

	best := 0.0
	for i, result := range results {
		lower, upper := WilsonInterval(result.Won, result.Displayed, 0.95)
		analysis.Variants[i] = VariantAnalysis{Result: result, CILower: lower, CIUpper: upper}

		if result.Won > 0 && result.Transformation > best {
			best = result.Transformation
			analysis.Leading = i
		}
	}
	return analysis
}
