package progression

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

type kindValidator func(task Task, ev Evidence) Decision

// Validator decides whether evidence satisfies a task. It never fails: every
// outcome is an accept or a reject with a reason shown to the rep.
type Validator struct {
	kinds map[InputKind]kindValidator
	text  TextClassifier
}

type ValidatorOption func(*Validator)

func WithTextClassifier(c TextClassifier) ValidatorOption {
	return func(v *Validator) {
		if c != nil {
			v.text = c
		}
	}
}

// WithGenericTextMinLength tunes the length a free-text answer needs when the
// task description maps to no keyword cluster.
func WithGenericTextMinLength(n int) ValidatorOption {
	return func(v *Validator) {
		v.text = DefaultTextClassifier(n)
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{text: DefaultTextClassifier(DefaultGenericTextMinLength)}
	for _, opt := range opts {
		opt(v)
	}
	v.kinds = map[InputKind]kindValidator{
		InputNone:     validateNone,
		InputText:     v.validateText,
		InputPhone:    validatePhone,
		InputDate:     validateDate,
		InputNumber:   validateNumber,
		InputCurrency: validateCurrency,
		InputFile:     validateFile,
		InputImage:    validateFile,
		InputVideo:    validateFile,
	}
	return v
}

func (v *Validator) Validate(task Task, ev Evidence) Decision {
	fn, ok := v.kinds[task.InputKind]
	if !ok {
		return accept("Data received")
	}
	return fn(task, ev)
}

func accept(reason string) Decision {
	return Decision{Accepted: true, Reason: reason}
}

func reject(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}

func validateNone(_ Task, _ Evidence) Decision {
	return accept("Data received")
}

func (v *Validator) validateText(task Task, ev Evidence) Decision {
	text := strings.TrimSpace(ev.Text)
	if len([]rune(text)) < MinTextLength {
		return reject("Answer is too short")
	}
	decision, decided := v.text.Classify(task, normalizeText(text))
	if !decided {
		return reject("Answer does not describe the activity")
	}
	return decision
}

var (
	phoneStrip   = regexp.MustCompile(`[^0-9+]`)
	phonePattern = regexp.MustCompile(`^(\+62|62|0)8[1-9][0-9]{6,9}$`)
)

func validatePhone(_ Task, ev Evidence) Decision {
	raw := strings.TrimSpace(ev.Text)
	if raw == "" {
		return reject("Phone number is required")
	}
	if phonePattern.MatchString(phoneStrip.ReplaceAllString(raw, "")) {
		return accept("Valid phone number")
	}
	return reject("Phone number format is invalid, use an Indonesian mobile number such as 08123456789")
}

var (
	dateTargetMissing = regexp.MustCompile(`belum\s*ada\s*target|no\s+target\s+yet`)
	dateTargetSet     = regexp.MustCompile(`sudah\s*ada\s*target|target\s+already\s+set`)
	dateNothing       = regexp.MustCompile(`^(tidak\s*ada|-+|none|n/?a)$`)
	dmyPattern        = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{2,4})\b`)
	ymdPattern        = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	monthNamePattern  = regexp.MustCompile(`\b(?:(\d{1,2})\s+)?(januari|februari|maret|april|mei|juni|juli|agustus|september|oktober|november|desember|january|february|march|may|june|july|august|october|december|jan|feb|mar|apr|jun|jul|agu|agt|aug|sep|okt|oct|nov|des|dec)\s+(\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"januari": time.January, "january": time.January, "jan": time.January,
	"februari": time.February, "february": time.February, "feb": time.February,
	"maret": time.March, "march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"mei": time.May, "may": time.May,
	"juni": time.June, "june": time.June, "jun": time.June,
	"juli": time.July, "july": time.July, "jul": time.July,
	"agustus": time.August, "august": time.August, "agu": time.August, "agt": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"oktober": time.October, "october": time.October, "okt": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"desember": time.December, "december": time.December, "des": time.December, "dec": time.December,
}

func validateDate(_ Task, ev Evidence) Decision {
	text := normalizeText(ev.Text)
	if text == "" || dateNothing.MatchString(text) {
		return reject("Target date is required")
	}
	if dateTargetMissing.MatchString(text) {
		return reject("No target date has been set yet")
	}
	date, ok := ParseLooseDate(text)
	if !ok {
		return reject("Could not find a valid date, use a format such as 25-12-2026 or 12 Januari 2026")
	}
	if dateTargetSet.MatchString(text) {
		return accept("Target date already set: " + date.Format("2006-01-02"))
	}
	return accept("Target date: " + date.Format("2006-01-02"))
}

// ParseLooseDate finds the first structurally valid date in free text. It
// understands d-m-y, y-m-d and Indonesian or English month names.
func ParseLooseDate(text string) (time.Time, bool) {
	text = normalizeText(text)
	for _, m := range dmyPattern.FindAllStringSubmatch(text, -1) {
		if t, ok := buildDate(m[3], m[2], m[1]); ok {
			return t, true
		}
	}
	for _, m := range ymdPattern.FindAllStringSubmatch(text, -1) {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	for _, m := range monthNamePattern.FindAllStringSubmatch(text, -1) {
		month, ok := monthNames[m[2]]
		if !ok {
			continue
		}
		day := m[1]
		if day == "" {
			day = "1"
		}
		if t, ok := buildDate(m[3], strconv.Itoa(int(month)), day); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func buildDate(yearRaw, monthRaw, dayRaw string) (time.Time, bool) {
	year, err := strconv.Atoi(yearRaw)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(monthRaw)
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayRaw)
	if err != nil {
		return time.Time{}, false
	}
	switch len(yearRaw) {
	case 2:
		year += 2000
	case 3:
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

var numberToken = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

func validateNumber(_ Task, ev Evidence) Decision {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return reject("A number is required")
	}
	token := numberToken.FindString(text)
	if token == "" {
		return reject("No number found in the answer")
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64)
	if err != nil {
		return reject("No number found in the answer")
	}
	if value < 0 {
		return reject("Number must not be negative")
	}
	return accept("Valid number: " + token)
}

var (
	currencyNegative = regexp.MustCompile(`belum\s*(ada)?\s*target|belum\s*(di)?\s*nego|masih\s*(dalam\s*)?(proses\s*)?nego|belum\s*tahu|no\s+target|not\s+(yet\s+)?negotiated|still\s+negotiating|don'?t\s+know`)
	currencyFree     = regexp.MustCompile(`\bgratis\b|\bfree\b|tanpa\s*biaya`)
	currencySettled  = regexp.MustCompile(`sudah\s*(ada)?\s*target|sudah\s*(di)?\s*nego|already\s+negotiated`)
	currencyPrefixed = regexp.MustCompile(`(?:rp\.?|idr)\s*(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)\s*(rb|ribu|jt|juta|m|miliar|milyar)?\b`)
	currencyAmount   = regexp.MustCompile(`(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)\s*(rb|ribu|jt|juta|m|miliar|milyar)?\b`)
)

var currencyMultipliers = map[string]float64{
	"rb": 1e3, "ribu": 1e3,
	"jt": 1e6, "juta": 1e6,
	"m": 1e9, "miliar": 1e9, "milyar": 1e9,
}

func validateCurrency(_ Task, ev Evidence) Decision {
	text := normalizeText(ev.Text)
	if text == "" {
		return reject("Amount is required")
	}
	if currencyNegative.MatchString(text) {
		return reject("Price has not been agreed yet")
	}
	if currencyFree.MatchString(text) {
		return accept("Free of charge")
	}
	amount, found := ParseAmount(text)
	if currencySettled.MatchString(text) {
		d := accept("Price target already set")
		if found && amount > 0 {
			d.Amount = FormatRupiah(amount)
			d.Reason += ": " + d.Amount
		}
		return d
	}
	if !found {
		return reject("No amount found, use a format such as Rp 10.000.000")
	}
	if amount <= 0 {
		return reject("Amount must be greater than zero")
	}
	formatted := FormatRupiah(amount)
	return Decision{Accepted: true, Reason: "Valid amount: " + formatted, Amount: formatted}
}

// ParseAmount extracts the first rupiah amount from text, accepting both
// Indonesian (1.000.000,50) and English (1,000,000.50) separators.
func ParseAmount(text string) (float64, bool) {
	text = normalizeText(text)
	m := currencyPrefixed.FindStringSubmatch(text)
	if m == nil {
		m = currencyAmount.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	value, ok := parseSeparatedNumber(m[1])
	if !ok {
		return 0, false
	}
	if mult, ok := currencyMultipliers[m[2]]; ok {
		value *= mult
	}
	return value, true
}

func parseSeparatedNumber(token string) (float64, bool) {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")
	decimalAt := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimalAt = max(lastDot, lastComma)
	case lastDot >= 0 || lastComma >= 0:
		sep := max(lastDot, lastComma)
		sepChar := token[sep]
		if strings.Count(token, string(sepChar)) == 1 && len(token)-sep-1 <= 2 {
			decimalAt = sep
		}
	}
	var b strings.Builder
	for i, r := range token {
		switch {
		case i == decimalAt:
			b.WriteByte('.')
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	value, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FormatRupiah renders an amount as "Rp 10.000.000", keeping two decimals
// only when there is a fractional part.
func FormatRupiah(amount float64) string {
	whole := math.Floor(amount)
	cents := int64(math.Round((amount - whole) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}
	digits := strconv.FormatInt(int64(whole), 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if cents > 0 {
		return fmt.Sprintf("Rp %s,%02d", b.String(), cents)
	}
	return "Rp " + b.String()
}

var (
	imageMimes = map[string]bool{"image/jpeg": true, "image/jpg": true, "image/png": true}
	videoMimes = map[string]bool{"video/mp4": true, "video/x-msvideo": true, "video/avi": true, "video/quicktime": true}
)

func validateFile(task Task, ev Evidence) Decision {
	if ev.File == nil || len(ev.File.Data) == 0 {
		return reject("A file upload is required")
	}
	mime := DetectMime(ev.File)
	switch task.InputKind {
	case InputImage:
		if !imageMimes[mime] {
			return reject("Image must be a JPG or PNG file")
		}
		return accept("Valid image")
	case InputVideo:
		if !videoMimes[mime] {
			return reject("Video must be an MP4, AVI or MOV file")
		}
		return accept("Valid video")
	}
	return accept("File received")
}

// DetectMime sniffs the uploaded bytes. The declared content type is used
// only when the bytes are not recognized, and never to claim an image or video.
func DetectMime(f *EvidenceFile) string {
	declared := baseMime(f.MimeType)
	if len(f.Data) == 0 {
		return declared
	}
	detected := baseMime(mimetype.Detect(f.Data).String())
	if detected != "application/octet-stream" {
		return detected
	}
	if declared == "" || strings.HasPrefix(declared, "image/") || strings.HasPrefix(declared, "video/") {
		return detected
	}
	return declared
}

func baseMime(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
