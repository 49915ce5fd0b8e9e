package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/mathwhiz/internal/blob"
	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/model"
)

// ErrNoQuestions is returned when a PDF yields no usable questions.
var ErrNoQuestions = errors.New("no questions found in the PDF")

// Extractor turns a PDF into questions.
type Extractor interface {
	ExtractQuestions(ctx context.Context, pdf []byte, hints llm.ExtractHints) (*llm.ExtractResult, error)
}

// SetStore persists extracted questions.
type SetStore interface {
	CreateQuestionSet(set model.QuestionSet, questions []model.Question) (*model.QuestionSet, []model.Question, error)
}

// PDFExtraction builds the work for pdf_extraction jobs. The job's Input is
// the blob key of the uploaded PDF.
type PDFExtraction struct {
	Bucket    blob.Bucket
	Extractor Extractor
	Store     SetStore
}

// Work returns the job body for one upload. title names the question set
// that the extracted questions are saved into.
func (p *PDFExtraction) Work(title string, hints llm.ExtractHints) Work {
	return func(ctx context.Context, job *model.Job, progress func(string)) (any, error) {
		progress("downloading PDF")
		data, err := p.Bucket.Get(ctx, job.Input)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", job.Input, err)
		}

		progress("extracting questions")
		res, err := p.Extractor.ExtractQuestions(ctx, data, hints)
		if err != nil {
			return nil, err
		}
		if len(res.Questions) == 0 {
			return nil, ErrNoQuestions
		}
		// Don't save anything for a job that was cancelled meanwhile.
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}

		progress(fmt.Sprintf("saving %d questions", len(res.Questions)))
		set, qs, err := p.Store.CreateQuestionSet(model.QuestionSet{
			ClassID:   job.ClassID,
			Title:     title,
			Source:    model.SourcePDF,
			CreatedBy: job.OwnerID,
		}, res.Questions)
		if err != nil {
			return nil, fmt.Errorf("save questions: %w", err)
		}
		return model.PDFJobResult{SetID: set.ID, Questions: len(qs), Truncated: res.Truncated}, nil
	}
}
