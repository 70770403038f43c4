package scanfile

import (
	"regexp"
	"strconv"
	"strings"
)

// LineKind is the classification of one decoded, trimmed line of a scan
// log file.
type LineKind uint8

const (
	KindUnknown LineKind = iota
	KindAbort
	KindResume
	KindComment
	KindFileHeader
	KindMotorNames
	KindMotorValues
	KindScanStart
	KindCommand
	KindTimestamp
	KindExposure
	KindColumnNames
	KindSpectralFormat
	KindSpectralChannels
	KindHeader
	KindData
)

func (k LineKind) String() string {
	switch k {
	case KindAbort:
		return "abort"
	case KindResume:
		return "resume"
	case KindComment:
		return "comment"
	case KindFileHeader:
		return "file_header"
	case KindMotorNames:
		return "motor_names"
	case KindMotorValues:
		return "motor_values"
	case KindScanStart:
		return "scan_start"
	case KindCommand:
		return "command"
	case KindTimestamp:
		return "timestamp"
	case KindExposure:
		return "exposure"
	case KindColumnNames:
		return "column_names"
	case KindSpectralFormat:
		return "spectral_format"
	case KindSpectralChannels:
		return "spectral_channels"
	case KindHeader:
		return "header"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Line is a classified line: its kind plus the payload with the marker
// prefix stripped and trimmed. For kinds without a marker prefix (data,
// header, abort, resume) Rest is the whole line.
type Line struct {
	Kind LineKind
	Rest string
}

// LineClassifier assigns exactly one LineKind to a trimmed line.
type LineClassifier interface {
	Classify(line string) Line
}

// Abort and resume markers are embedded in #C comment lines, so they are
// matched anywhere in the line, not as prefixes.
var (
	reAborted = regexp.MustCompile(`#C[a-zA-Z0-9: .]*Scan aborted`)
	reResumed = regexp.MustCompile(`#C[a-zA-Z0-9: .]*Scan resumed`)
	reData    = regexp.MustCompile(`^[+-]*[0-9]`)

	reFloatToken = regexp.MustCompile(
		`[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?|[+-]?[iI][nN][fF]|[nN][aA][nN]`)
	reIntToken   = regexp.MustCompile(`[+-]?[0-9]+`)
	reTimeOfDay  = regexp.MustCompile(`[0-9]{2}:[0-9]{2}:[0-9]{2}`)
	reMultiBlank = regexp.MustCompile(`\s\s+`)
)

// markerPrefixes is checked in priority order. #TIM must come before #T
// and the spectral markers before the generic header fallback.
var markerPrefixes = []struct {
	prefix string
	kind   LineKind
}{
	{"#ATT", KindComment},
	{"#E", KindFileHeader},
	{"#MOT", KindMotorNames},
	{"#VAL", KindMotorValues},
	{"#RUN", KindScanStart},
	{"#CMD", KindCommand},
	{"#TIM", KindTimestamp},
	{"#T", KindExposure},
	{"#COL", KindColumnNames},
	{"#@MCA", KindSpectralFormat},
	{"#@CHANN", KindSpectralChannels},
	// #C must come last among the #C-prefixed markers.
	{"#C", KindComment},
}

// Classifier is the default prefix/pattern based LineClassifier for the
// SPEC meta-log dialect. It is stateless and safe for concurrent use.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(line string) Line {
	if reAborted.MatchString(line) {
		return Line{Kind: KindAbort, Rest: line}
	}
	if reResumed.MatchString(line) {
		return Line{Kind: KindResume, Rest: line}
	}
	for _, m := range markerPrefixes {
		if strings.HasPrefix(line, m.prefix) {
			return Line{Kind: m.kind, Rest: strings.TrimSpace(line[len(m.prefix):])}
		}
	}
	if strings.HasPrefix(line, "#") {
		return Line{Kind: KindHeader, Rest: line}
	}
	if reData.MatchString(line) {
		return Line{Kind: KindData, Rest: line}
	}
	return Line{Kind: KindUnknown, Rest: line}
}

// floatTokens extracts all numeric tokens from a line, silently dropping
// anything strconv rejects. Accepts signed integers, decimals, exponent
// notation and inf/nan in any case.
func floatTokens(s string) []float64 {
	matches := reFloatToken.FindAllString(s, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// intTokens extracts all signed integer tokens, dropping malformed ones.
func intTokens(s string) []int64 {
	matches := reIntToken.FindAllString(s, -1)
	out := make([]int64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func firstFloat(s string) (float64, bool) {
	m := reFloatToken.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func firstInt(s string) (int64, bool) {
	m := reIntToken.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// splitDateTime splits a #TIM payload into its date part and the first
// hh:mm:ss time of day found on the line.
func splitDateTime(rest string) (date, timeOfDay string) {
	timeOfDay = reTimeOfDay.FindString(rest)
	date = reTimeOfDay.ReplaceAllString(rest, "")
	date = strings.TrimSpace(reMultiBlank.ReplaceAllString(date, " "))
	return date, timeOfDay
}

// splitMotorNames splits a #MOT payload on runs of two or more blanks, so
// motor names containing a single blank survive.
func splitMotorNames(rest string) []string {
	if rest == "" {
		return nil
	}
	parts := reMultiBlank.Split(rest, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
