package intent

import "strings"

// DefaultDirectKeywords: фразы, по которым сообщение считается прямым запросом картинки.
var DefaultDirectKeywords = []string{
	"draw",
	"sketch",
	"illustrate",
	"render",
	"create an image",
	"generate an image",
	"show me",
	"picture of",
	"image of",
}

// DefaultEditKeywords: глаголы изменения. Учитываются только при наличии истории картинок,
// иначе "update me on the weather" превратился бы в запрос картинки.
var DefaultEditKeywords = []string{"make", "change", "remove", "replace", "update", "edit"}

// Intent результат классификации одной реплики.
type Intent struct {
	IsDirect       bool `json:"isDirect"`
	IsEdit         bool `json:"isEdit"`
	IsImageRequest bool `json:"isImageRequest"`
}

// Classifier: эвристика на подстроках, без попыток угадать намерение шире списков.
// Расширяется добавлением фраз в списки.
type Classifier struct {
	direct []string
	edit   []string
}

// New создаёт классификатор. Пустой список заменяется значением по умолчанию.
func New(direct, edit []string) *Classifier {
	if len(direct) == 0 {
		direct = DefaultDirectKeywords
	}
	if len(edit) == 0 {
		edit = DefaultEditKeywords
	}
	return &Classifier{direct: normalize(direct), edit: normalize(edit)}
}

var defaultClassifier = New(nil, nil)

// Classify классифицирует сообщение стандартными списками.
func Classify(message string, history []string) Intent {
	return defaultClassifier.Classify(message, history)
}

// MatchesEdit проверяет только глаголы изменения стандартного списка.
func MatchesEdit(message string) bool {
	return defaultClassifier.MatchesEdit(message)
}

// Classify решает, просит ли реплика новую картинку или правку предыдущей.
func (c *Classifier) Classify(message string, history []string) Intent {
	direct := containsAny(message, c.direct)
	edit := len(history) > 0 && containsAny(message, c.edit)
	return Intent{IsDirect: direct, IsEdit: edit, IsImageRequest: direct || edit}
}

// MatchesEdit сообщает, содержит ли сообщение глагол изменения (без учёта истории).
func (c *Classifier) MatchesEdit(message string) bool {
	return containsAny(message, c.edit)
}

func containsAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func normalize(list []string) []string {
	out := make([]string, 0, len(list))
	for _, kw := range list {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
