package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/mathwhiz/internal/llm/prompts"
	"github.com/pavelanni/mathwhiz/internal/llmjson"
	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/retry"
)

// Question types accepted by GenerateSpec.Type.
const (
	TypeMultipleChoice = "multiple-choice"
	TypeFreeResponse   = "free-response"
	TypeDrawing        = "drawing"
)

// Options tunes a Client. Zero values get defaults.
type Options struct {
	Attempts     int           // per call, including the first; default 3
	BaseDelay    time.Duration // first retry delay; default 1s
	CallTimeout  time.Duration // per attempt; default 2m
	Concurrency  int           // parallel calls in batch operations; default 4
	MaxQuestions int           // cap on extracted or generated questions; default 50
	Logger       *slog.Logger
}

// Client runs the application's model calls on top of a Generator.
type Client struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
}

// New creates a new LLM client.
func New(gen Generator, opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gen: gen, opts: opts, logger: logger}
}

// call sends req with retries; each attempt is bounded by CallTimeout.
func (c *Client) call(ctx context.Context, name string, req Request) (Response, error) {
	cfg := retry.Config{
		Attempts:  c.opts.Attempts,
		BaseDelay: c.opts.BaseDelay,
		Retryable: IsRetryable,
		Logger:    c.logger,
	}
	return retry.DoValue(ctx, cfg, name, func(ctx context.Context) (Response, error) {
		return retry.WithTimeoutValue(ctx, c.opts.CallTimeout, name, func(ctx context.Context) (Response, error) {
			return c.gen.Generate(ctx, req)
		})
	})
}

// GenerateSpec describes an AI-generated question set.
type GenerateSpec struct {
	Topic      string `json:"topic"`
	Grade      int    `json:"grade"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
	Type       string `json:"type"`
}

// GenerateQuestions asks the model for a new set of questions.
func (c *Client) GenerateQuestions(ctx context.Context, spec GenerateSpec) ([]model.Question, error) {
	if spec.Count <= 0 {
		spec.Count = 10
	}
	spec.Count = min(spec.Count, c.opts.MaxQuestions)
	if spec.Difficulty == "" {
		spec.Difficulty = "medium"
	}
	if spec.Type == "" {
		spec.Type = TypeFreeResponse
	}

	prompt, err := prompts.BuildGeneratePrompt(prompts.GenerateData{
		Topic:      spec.Topic,
		Grade:      spec.Grade,
		Count:      spec.Count,
		Difficulty: spec.Difficulty,
		Type:       spec.Type,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "generate questions", Request{
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   8192,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	var raw []rawQuestion
	recovery, err := llmjson.Decode(resp.Text, &raw, llmjson.Options{Truncated: resp.Truncated})
	if err != nil {
		c.logger.Warn("could not parse generated questions", "error", err, "truncated", resp.Truncated)
		return nil, fmt.Errorf("parse generated questions: %w", err)
	}
	if recovery != llmjson.RecoveryNone {
		c.logger.Info("recovered generated questions", "recovery", recovery, "truncated", resp.Truncated)
	}

	qs := toQuestions(raw, spec.Grade, model.SourceGenerated, spec.Count)
	for i := range qs {
		if qs[i].Topic == "" {
			qs[i].Topic = spec.Topic
		}
		if spec.Type == TypeDrawing {
			qs[i].Drawing = true
		}
	}
	return qs, nil
}

// ExtractHints guides PDF extraction.
type ExtractHints struct {
	Text     string
	Grade    int
	HasGrade bool
}

// ExtractResult is the outcome of a PDF extraction.
type ExtractResult struct {
	Questions []model.Question
	Truncated bool
	Recovery  llmjson.Recovery
}

// ExtractQuestions sends a PDF worksheet inline and parses the questions the
// model found in it. Parsing is lenient: worksheets tend to produce the
// longest and least tidy responses.
func (c *Client) ExtractQuestions(ctx context.Context, pdf []byte, hints ExtractHints) (*ExtractResult, error) {
	prompt, err := prompts.BuildExtractPrompt(prompts.ExtractData{
		Hints:        hints.Text,
		Grade:        hints.Grade,
		HasGrade:     hints.HasGrade,
		MaxQuestions: c.opts.MaxQuestions,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "extract questions", Request{
		Prompt:      prompt,
		Attachments: []Attachment{{MIMEType: "application/pdf", Data: pdf}},
		Temperature: 0.1,
		MaxTokens:   16384,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract questions: %w", err)
	}

	var raw []rawQuestion
	recovery, err := llmjson.Decode(resp.Text, &raw, llmjson.Options{Truncated: resp.Truncated, Lenient: true})
	if err != nil {
		c.logger.Warn("could not parse extracted questions", "error", err, "truncated", resp.Truncated, "response_len", len(resp.Text))
		return nil, fmt.Errorf("parse extracted questions: %w", err)
	}
	c.logger.Debug("extracted questions", "count", len(raw), "recovery", recovery, "truncated", resp.Truncated)

	return &ExtractResult{
		Questions: toQuestions(raw, hints.Grade, model.SourcePDF, c.opts.MaxQuestions),
		Truncated: resp.Truncated,
		Recovery:  recovery,
	}, nil
}

// GradeInput is one answer to grade.
type GradeInput struct {
	QuestionID     int64
	Question       string
	ExpectedAnswer string
	Answer         string
	Drawing        []byte // PNG or JPEG
	DrawingMIME    string
	Grade          int
}

// GradeResult holds the model's assessment of one answer.
type GradeResult struct {
	QuestionID  int64   `json:"question_id,omitempty"`
	Correct     bool    `json:"correct"`
	Score       float64 `json:"score"`
	Feedback    string  `json:"feedback"`
	NeedsReview bool    `json:"needs_review,omitempty"`
}

type gradeResponse struct {
	Correct  bool     `json:"correct"`
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// GradeAnswer grades a written or drawn answer.
func (c *Client) GradeAnswer(ctx context.Context, in GradeInput) (*GradeResult, error) {
	prompt, err := prompts.BuildGradePrompt(prompts.GradeData{
		Question:       in.Question,
		ExpectedAnswer: in.ExpectedAnswer,
		Answer:         in.Answer,
		Drawing:        len(in.Drawing) > 0,
		Grade:          in.Grade,
	})
	if err != nil {
		return nil, err
	}

	req := Request{
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   1024,
		JSON:        true,
	}
	if len(in.Drawing) > 0 {
		mime := in.DrawingMIME
		if mime == "" {
			mime = "image/png"
		}
		req.Attachments = []Attachment{{MIMEType: mime, Data: in.Drawing}}
	}

	resp, err := c.call(ctx, "grade answer", req)
	if err != nil {
		return nil, fmt.Errorf("grade answer: %w", err)
	}

	var gr gradeResponse
	if _, err := llmjson.Decode(resp.Text, &gr, llmjson.Options{Truncated: resp.Truncated}); err != nil {
		return nil, fmt.Errorf("parse grading response: %w", err)
	}

	result := &GradeResult{
		QuestionID: in.QuestionID,
		Correct:    gr.Correct,
		Feedback:   strings.TrimSpace(gr.Feedback),
	}
	switch {
	case gr.Score != nil:
		result.Score = min(max(*gr.Score, 0), 1)
	case gr.Correct:
		result.Score = 1
	}
	return result, nil
}

// GradeBatch grades answers concurrently. Results are in input order. An
// answer that cannot be graded gets a NeedsReview result instead of failing
// the batch; only a cancelled ctx returns an error.
func (c *Client) GradeBatch(ctx context.Context, inputs []GradeInput) ([]GradeResult, error) {
	results := make([]GradeResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			r, err := c.GradeAnswer(gctx, in)
			if err != nil {
				c.logger.Error("grading failed, flagged for review", "question_id", in.QuestionID, "error", err)
				results[i] = GradeResult{QuestionID: in.QuestionID, NeedsReview: true}
				return nil
			}
			results[i] = *r
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// distractorCount is how many wrong choices FillOptions asks for.
const distractorCount = 3

// FillOptions turns free-response questions into multiple choice by asking
// the model for wrong answers. Drawing questions and questions that already
// have options are left alone. A question whose distractors cannot be
// generated keeps no options and stays free response.
func (c *Client) FillOptions(ctx context.Context, qs []model.Question) ([]model.Question, error) {
	out := make([]model.Question, len(qs))
	copy(out, qs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i := range out {
		q := &out[i]
		if q.Drawing || len(q.Options) > 0 || strings.TrimSpace(q.Answer) == "" {
			continue
		}
		g.Go(func() error {
			opts, err := c.distractors(gctx, *q)
			if err != nil {
				c.logger.Warn("option generation failed, keeping free response", "question_id", q.ID, "error", err)
				q.Options = nil
				return nil
			}
			q.Options = opts
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) distractors(ctx context.Context, q model.Question) ([]string, error) {
	prompt, err := prompts.BuildOptionsPrompt(prompts.OptionsData{
		Question: q.Text,
		Answer:   q.Answer,
		Grade:    q.Grade,
		Count:    distractorCount,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "generate options", Request{
		Prompt:      prompt,
		Temperature: 0.8,
		MaxTokens:   512,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var raw []any
	if _, err := llmjson.Decode(resp.Text, &raw, llmjson.Options{Truncated: resp.Truncated}); err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(q.Answer)
	seen := map[string]bool{strings.ToLower(answer): true}
	var wrong []string
	for _, v := range raw {
		s := strings.TrimSpace(scalarString(v))
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		wrong = append(wrong, s)
		if len(wrong) == distractorCount {
			break
		}
	}
	if len(wrong) == 0 {
		return nil, fmt.Errorf("no usable options in model response")
	}

	opts := make([]string, 0, len(wrong)+1)
	at := rand.IntN(len(wrong) + 1)
	opts = append(opts, wrong[:at]...)
	opts = append(opts, answer)
	opts = append(opts, wrong[at:]...)
	return opts, nil
}

// rawQuestion is a question as models write it: answers and options may
// come back as numbers.
type rawQuestion struct {
	Question string `json:"question"`
	Answer   any    `json:"answer"`
	Options  []any  `json:"options"`
	Hint     string `json:"hint"`
	Topic    string `json:"topic"`
	Drawing  bool   `json:"drawing"`
}

func toQuestions(raw []rawQuestion, grade int, source model.QuestionSource, limit int) []model.Question {
	qs := make([]model.Question, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Question)
		if text == "" {
			continue
		}
		q := model.Question{
			Text:     text,
			Answer:   strings.TrimSpace(scalarString(r.Answer)),
			Hint:     strings.TrimSpace(r.Hint),
			Topic:    strings.TrimSpace(r.Topic),
			Grade:    grade,
			Drawing:  r.Drawing,
			Source:   source,
			Position: len(qs),
		}
		for _, o := range r.Options {
			if s := strings.TrimSpace(scalarString(o)); s != "" {
				q.Options = append(q.Options, s)
			}
		}
		qs = append(qs, q)
		if len(qs) == limit {
			break
		}
	}
	return qs
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
