package native

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// FormatDouble renders d the way Double.toString does.
func FormatDouble(d float64) string {
	return formatFloat(d, 64)
}

// FormatFloat renders f the way Float.toString does.
func FormatFloat(f float32) string {
	return formatFloat(float64(f), 32)
}

func formatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(v)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(v, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(v, 'e', -1, bits)
	mant, exp, _ := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(e)
}

// FormatChar renders a UTF-16 code unit. Lone surrogates become U+FFFD.
func FormatChar(c uint16) string {
	if utf16.IsSurrogate(rune(c)) {
		return "\uFFFD"
	}
	return string(rune(c))
}

// FormatBool renders an int-encoded boolean.
func FormatBool(v int32) string {
	if v != 0 {
		return "true"
	}
	return "false"
}
