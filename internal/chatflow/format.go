package chatflow

import (
	"regexp"
	"strconv"
	"strings"
)

const emptyResultMessage = "Không tìm thấy dữ liệu phù hợp với yêu cầu của bạn."

var (
	// percentPattern matches a decimal percentage the model rendered in
	// en-US form, e.g. "15.5%".
	percentPattern = regexp.MustCompile(`(-?\d+)\.(\d+)%`)
	// integerGroupPattern matches a bare run of 4+ digits between word
	// boundaries, a candidate for thousands-grouping. A decimal point does not
	// stop a match, so digit runs on either side of one are grouped too.
	integerGroupPattern = regexp.MustCompile(`\b(\d{4,})\b`)
)

// FormatNumber renders n the way Vietnamese sellers expect their totals:
// thousands grouped with '.', no unnecessary decimals.
func FormatNumber(n float64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	whole := int64(n)
	frac := n - float64(whole)
	grouped := groupThousands(strconv.FormatInt(whole, 10))
	if frac < 1e-9 {
		return sign + grouped
	}
	return sign + grouped + "," + strings.TrimRight(strconv.FormatFloat(frac, 'f', 2, 64)[2:], "0")
}

// FormatCurrencyVND renders n as a grouped integer amount with the VND suffix.
func FormatCurrencyVND(n float64) string {
	return FormatNumber(n) + " VND"
}

// FormatPercentage renders p with a comma decimal separator and a trailing
// '%', trimming a trailing ".0" the way Vietnamese locale percentages read.
func FormatPercentage(p float64) string {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	return strings.Replace(s, ".", ",", 1) + "%"
}

// groupThousands inserts '.' every three digits from the right of a plain
// (unsigned, integer) digit string.
func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatResponse is the response_formatter node: it normalizes numbers and
// percentages the model rendered in en-US convention into the Vietnamese
// locale form, and substitutes an explicit message when the upstream text
// is empty (e.g. the model returned nothing on a cancelled/failed turn).
func FormatResponse(text string) string {
	if strings.TrimSpace(text) == "" {
		return emptyResultMessage
	}

	text = percentPattern.ReplaceAllString(text, "$1,$2%")
	text = integerGroupPattern.ReplaceAllStringFunc(text, groupThousands)
	return text
}
