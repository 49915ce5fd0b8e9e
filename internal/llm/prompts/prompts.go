package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var embedded embed.FS

var (
	studentAnswerRegex = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	teacherNotesRegex  = regexp.MustCompile(`(?i)</?\s*teacher-notes\b[^>]*>`)
)

// Kind names one prompt template.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindExtract  Kind = "extract"
	KindGrade    Kind = "grade"
	KindOptions  Kind = "options"
)

var kinds = []Kind{KindGenerate, KindExtract, KindGrade, KindOptions}

// maxAnswerRunes bounds the student text sent to the model.
const maxAnswerRunes = 4000

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

var funcs = template.FuncMap{
	"gradeLabel": GradeLabel,
}

// GenerateData holds template data for question generation.
type GenerateData struct {
	Topic      string
	Grade      int
	Count      int
	Difficulty string
	Type       string
}

// ExtractData holds template data for PDF question extraction.
type ExtractData struct {
	Hints        string
	Grade        int
	HasGrade     bool
	MaxQuestions int
}

// GradeData holds template data for answer grading.
type GradeData struct {
	Question       string
	ExpectedAnswer string
	Answer         string
	Drawing        bool
	Grade          int
}

// OptionsData holds template data for multiple-choice distractors.
type OptionsData struct {
	Question string
	Answer   string
	Grade    int
	Count    int
}

// Load parses the prompt templates from fsys. Only the first call does any
// work; later calls return the first result.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		parsed := make(map[Kind]*template.Template, len(kinds))
		for _, k := range kinds {
			file := "templates/" + string(k) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(k)).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			parsed[k] = tmpl
		}
		templates = parsed
	})
	return loadErr
}

func render(k Kind, data any) (string, error) {
	if err := Load(embedded); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[k]
	if !ok {
		return "", errors.New("unknown prompt: " + string(k))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", k, err)
	}
	return buf.String(), nil
}

// BuildGeneratePrompt builds the prompt for an AI-generated question set.
func BuildGeneratePrompt(d GenerateData) (string, error) {
	d.Topic = strings.TrimSpace(d.Topic)
	return render(KindGenerate, d)
}

// BuildExtractPrompt builds the prompt sent alongside an uploaded PDF.
func BuildExtractPrompt(d ExtractData) (string, error) {
	d.Hints = sanitize(teacherNotesRegex, d.Hints, "")
	return render(KindExtract, d)
}

// BuildGradePrompt builds the grading prompt for one answer. A drawing
// answer may carry no text at all.
func BuildGradePrompt(d GradeData) (string, error) {
	empty := "[No answer provided]"
	if d.Drawing {
		empty = ""
	}
	d.Answer = sanitize(studentAnswerRegex, d.Answer, empty)
	return render(KindGrade, d)
}

// BuildOptionsPrompt builds the prompt asking for wrong answer choices.
func BuildOptionsPrompt(d OptionsData) (string, error) {
	return render(KindOptions, d)
}

// GradeLabel renders a school grade for prompts: 0 is kindergarten.
func GradeLabel(grade int) string {
	if grade <= 0 {
		return "kindergarten"
	}
	return "grade " + strconv.Itoa(grade)
}

func sanitize(tags *regexp.Regexp, text, empty string) string {
	text = tags.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return empty
	}

	if utf8.RuneCountInString(text) > maxAnswerRunes {
		runes := []rune(text)
		text = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return text
}
