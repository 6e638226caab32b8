// Package extract is Phase 1: raw finding records out of document chunks via
// a generative model call. One chunk failing never aborts the submission; a
// submission with zero valid records is a hard failure for the caller.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigilops/bastion/internal/chunk"
	"github.com/vigilops/bastion/internal/llm"
	"github.com/vigilops/bastion/internal/model"
)

const findingsPrompt = `You are a physical-security assessment analyst. Extract every distinct
security vulnerability from the document excerpt below.

Return a JSON object with key "findings", a list of objects. Each object has:
- "vulnerability": one-sentence statement of the vulnerability
- "options_for_consideration": list of recommended mitigations
- "category": short free-text category
- "citations": list of verbatim supporting quotes from the excerpt

Return only JSON. If the excerpt contains no security vulnerabilities, return
{"findings": []}.

<EXCERPT page="%d">
%s
</EXCERPT>`

type chunkResponse struct {
	Findings []model.FindingRecord `json:"findings"`
}

type Extractor struct {
	LLM         llm.Client
	CallTimeout time.Duration
	logger      *zap.Logger
}

func NewExtractor(client llm.Client, callTimeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{
		LLM:         client,
		CallTimeout: callTimeout,
		logger:      logger.Named("extract"),
	}
}

// Extract runs the model over every chunk. The returned records preserve the
// option shape the model emitted verbatim; normalization is the classifier's
// job so no information is lost here. Failures are per-chunk markers, not
// swallowed errors.
func (e *Extractor) Extract(ctx context.Context, sourceFile string, chunks []chunk.Chunk) ([]model.FindingRecord, []model.ChunkFailure, error) {
	var records []model.FindingRecord
	var failures []model.ChunkFailure

	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			failures = append(failures, model.ChunkFailure{
				ChunkID: ch.ID,
				Reason:  model.FailureEmptyChunk,
			})
			continue
		}

		recs, fail := e.extractChunk(ctx, ch)
		if fail != nil {
			e.logger.Warn("chunk extraction failed",
				zap.String("chunk_id", ch.ID),
				zap.String("reason", fail.Reason),
				zap.String("detail", fail.Detail))
			failures = append(failures, *fail)
			continue
		}

		for i := range recs {
			recs[i].SourceFile = sourceFile
			recs[i].SourcePage = ch.Page
			recs[i].ChunkID = ch.ID
		}
		records = append(records, recs...)
	}

	if len(records) == 0 {
		return nil, failures, fmt.Errorf("extraction produced zero valid records across %d chunks (%d failed)",
			len(chunks), len(failures))
	}
	return records, failures, nil
}

func (e *Extractor) extractChunk(ctx context.Context, ch chunk.Chunk) ([]model.FindingRecord, *model.ChunkFailure) {
	callCtx := ctx
	var cancel context.CancelFunc
	if e.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.CallTimeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(findingsPrompt, ch.Page, ch.Text)
	response, err := e.LLM.Generate(callCtx, prompt)
	if err != nil {
		reason := model.FailureModelError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = model.FailureCallTimeout
		}
		return nil, &model.ChunkFailure{ChunkID: ch.ID, Reason: reason, Detail: err.Error()}
	}

	result, err := ParseJSON[chunkResponse](response)
	if err != nil {
		return nil, &model.ChunkFailure{ChunkID: ch.ID, Reason: model.FailureUnparseable, Detail: err.Error()}
	}

	// Findings with no vulnerability text are model noise, drop them here
	// where it is visible rather than letting them pollute dedupe keys.
	var recs []model.FindingRecord
	for _, r := range result.Findings {
		if strings.TrimSpace(r.Vulnerability) == "" {
			continue
		}
		recs = append(recs, r)
	}
	return recs, nil
}
