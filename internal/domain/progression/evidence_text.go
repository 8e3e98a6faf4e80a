package progression

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultGenericTextMinLength = 20
	StrictGenericTextMinLength  = 10
)

// TextClassifier judges a normalised free-text answer against a task. The
// boolean result is false when the classifier has no opinion.
type TextClassifier interface {
	Classify(task Task, text string) (Decision, bool)
}

// ChainClassifier asks each classifier in turn and returns the first opinion.
type ChainClassifier []TextClassifier

func (c ChainClassifier) Classify(task Task, text string) (Decision, bool) {
	for _, classifier := range c {
		if d, ok := classifier.Classify(task, text); ok {
			return d, true
		}
	}
	return Decision{}, false
}

func DefaultTextClassifier(genericMinLength int) TextClassifier {
	if genericMinLength <= 0 {
		genericMinLength = DefaultGenericTextMinLength
	}
	return ChainClassifier{
		PhraseClassifier{},
		KeywordClassifier{GenericMinLength: genericMinLength},
	}
}

func normalizeText(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	donePhrases = []string{
		"sudah melakukan", "sudah koordinasi", "sudah komunikasi", "sudah konfirmasi", "sudah bertemu",
		"telah melakukan", "telah bertemu", "already met", "already discussed", "already coordinated",
	}
	inProgressPhrases = []string{
		"ada diskusi lanjutan", "akan dikonsultasikan", "sedang dalam proses", "sudah dijadwalkan",
		"sedang diproses", "in progress", "has been scheduled",
	}
	failurePhrases = []string{
		"belum melakukan", "belum diskusi", "belum koordinasi", "belum bertemu", "tidak jadi", "ditolak",
		"not yet", "was rejected", "cancelled",
	}
	activityWords = []string{
		"diskusi", "koordinasi", "komunikasi", "rapat", "meeting", "pertemuan", "presentasi", "kunjungan", "visit",
	}
	stakeholderWords = []string{
		"pimpinan", "kepala", "direktur", "manager", "pbj", "ppk", "tim pengadaan", "pihak terkait", "procurement",
	}
	nextStepPhrases = []string{
		"akan ditindaklanjuti", "akan dilanjutkan", "selanjutnya", "follow up", "tindak lanjut", "next step",
	}
)

// PhraseClassifier looks for sentence-level signals that an activity took
// place, is under way, or failed. It stays silent when nothing matches.
type PhraseClassifier struct{}

func (PhraseClassifier) Classify(_ Task, text string) (Decision, bool) {
	failures := containsAny(text, failurePhrases)
	done := containsAny(text, donePhrases)
	inProgress := containsAny(text, inProgressPhrases)
	if failures > 0 && failures >= done+inProgress {
		return reject("Activity has not been carried out"), true
	}
	if done > 0 {
		return accept("Activity has been carried out"), true
	}
	if inProgress > 0 {
		return accept("Activity is in progress"), true
	}

	activity := containsAny(text, activityWords)
	stakeholder := containsAny(text, stakeholderWords)
	nextStep := containsAny(text, nextStepPhrases)
	if activity >= 1 && (stakeholder > 0 || nextStep > 0) {
		return accept("Activity with stakeholders described"), true
	}
	if activity >= 2 {
		return accept("Activity described"), true
	}
	return Decision{}, false
}

type keywordCluster struct {
	triggers []string
	keywords []string
}

var keywordClusters = []keywordCluster{
	{
		triggers: []string{"company profile", "compro", "profil perusahaan"},
		keywords: []string{"company profile", "compro", "profil", "brosur", "brochure", "katalog", "catalog"},
	},
	{
		triggers: []string{"harga", "penawaran", "pricing", "quotation", "price"},
		keywords: []string{"harga", "penawaran", "price", "pricing", "quotation", "rp", "diskon", "discount", "biaya"},
	},
	{
		triggers: []string{"jadwal", "schedule", "janji temu", "appointment"},
		keywords: []string{"jadwal", "schedule", "tanggal", "besok", "minggu depan", "bulan depan", "hari", "jam"},
	},
	{
		triggers: []string{"demo", "presentasi", "presentation"},
		keywords: []string{"demo", "presentasi", "presentation", "peragaan", "trial", "uji coba"},
	},
	{
		triggers: []string{"kebutuhan", "needs", "requirement"},
		keywords: []string{"kebutuhan", "butuh", "need", "requirement", "spesifikasi", "specification", "unit"},
	},
	{
		triggers: []string{"pic", "decision maker", "pengambil keputusan", "kontak"},
		keywords: []string{"pic", "kepala", "direktur", "manager", "kontak", "contact", "bapak", "ibu", "pak", "bu"},
	},
	{
		triggers: []string{"kontrak", "contract", "purchase order", "spk"},
		keywords: []string{"kontrak", "contract", "po", "purchase order", "spk", "tanda tangan", "ttd", "sign"},
	},
	{
		triggers: []string{"follow up", "follow-up", "tindak lanjut"},
		keywords: []string{"follow up", "tindak lanjut", "dihubungi", "telepon", "telpon", "call", "whatsapp", "wa", "email"},
	},
}

// KeywordClassifier derives the keywords a good answer would mention from the
// task description. It always returns an opinion.
type KeywordClassifier struct {
	GenericMinLength int
}

func (c KeywordClassifier) Classify(task Task, text string) (Decision, bool) {
	keywords := keywordsFor(normalizeText(task.Description))
	if len(keywords) == 0 {
		minLength := c.GenericMinLength
		if minLength <= 0 {
			minLength = DefaultGenericTextMinLength
		}
		if len([]rune(text)) >= minLength {
			return accept("Answer accepted"), true
		}
		return reject(fmt.Sprintf("Answer is too short, describe the activity in at least %d characters", minLength)), true
	}
	for _, kw := range keywords {
		if containsKeyword(text, kw) {
			return accept("Answer mentions " + kw), true
		}
	}
	shown := keywords
	if len(shown) > 4 {
		shown = shown[:4]
	}
	return reject("Answer should mention one of: " + strings.Join(shown, ", ")), true
}

func keywordsFor(description string) []string {
	var out []string
	seen := map[string]bool{}
	for _, cluster := range keywordClusters {
		if containsAny(description, cluster.triggers) == 0 {
			continue
		}
		for _, kw := range cluster.keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

func containsAny(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if containsKeyword(text, p) {
			n++
		}
	}
	return n
}

// containsKeyword matches multi-word phrases as substrings and single words
// against whole tokens, allowing suffixes for words of five letters or more.
func containsKeyword(text, kw string) bool {
	if strings.ContainsAny(kw, " -") {
		return strings.Contains(text, kw)
	}
	for _, tok := range tokenize(text) {
		if tok == kw || (len(kw) >= 5 && strings.HasPrefix(tok, kw)) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}
