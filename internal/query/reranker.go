package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/sync/errgroup"
)

// maxJudgmentConcurrency bounds in-flight judgment calls per query. The
// rate limiter (Engine.judgeLimiter) additionally smooths request bursts
// across concurrent queries.
const maxJudgmentConcurrency = 8

// neutralJudgment is used when the judgment call succeeded but its output
// was not a usable number.
const neutralJudgment = 0.5

// judgmentPrompt asks for a bare relevance score.
const judgmentPrompt = `Rate how relevant this content is for answering the question. Respond with only a number between 0.0 and 1.0.

Question: %s

Content:
%s

Score:`

// imageJudgmentPrompt is the vision variant; the image travels as a media part.
const imageJudgmentPrompt = `Rate how relevant this image is for answering the question. Respond with only a number between 0.0 and 1.0.

Question: %s

Score:`

// rerank judges every candidate's relevance with a model call and combines
// the judgment with retrieval similarity into the final rank. Judgments run
// concurrently; a failed judgment keeps that candidate at its original
// similarity-only score instead of dropping it. Returns the top rerankTopK
// by final score.
func (e *Engine) rerank(ctx context.Context, queryText string, candidates []Candidate) []Candidate {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxJudgmentConcurrency)

	for i := range candidates {
		c := &candidates[i]
		eg.Go(func() error {
			if e.judgeLimiter != nil {
				if err := e.judgeLimiter.Wait(gctx); err != nil {
					return nil // context canceled; candidate keeps its score
				}
			}

			judgment, err := e.judgeCandidate(gctx, queryText, c)
			if err != nil {
				e.logger.Warn("relevance judgment failed, keeping similarity score",
					"element", c.Element.ID,
					"element_type", c.Element.Type,
					"error", err)
				return nil
			}
			c.Judgment = judgment
			c.Judged = true
			c.Final = e.similarityWeight*c.Similarity + e.judgmentWeight*judgment
			return nil
		})
	}
	_ = eg.Wait()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Final > candidates[j].Final
	})
	if len(candidates) > e.rerankTopK {
		candidates = candidates[:e.rerankTopK]
	}
	return candidates
}

// judgeCandidate issues one relevance judgment. Image elements go to the
// vision model with the image attached; everything else is a text call.
func (e *Engine) judgeCandidate(ctx context.Context, queryText string, c *Candidate) (float64, error) {
	if e.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.inferenceTimeout)
		defer cancel()
	}

	var resp *ai.ModelResponse
	var err error
	if c.Element.HasImage() {
		part, partErr := imagePart(c.Element.ImageData)
		if partErr != nil {
			return 0, partErr
		}
		resp, err = genkit.Generate(ctx, e.g,
			ai.WithModelName(e.visionModel),
			ai.WithMessages(ai.NewUserMessage(
				part,
				ai.NewTextPart(fmt.Sprintf(imageJudgmentPrompt, queryText)),
			)),
		)
	} else {
		resp, err = genkit.Generate(ctx, e.g,
			ai.WithModelName(e.modelName),
			ai.WithPrompt(fmt.Sprintf(judgmentPrompt, queryText, truncate(c.Element.Content, 2000))),
		)
	}
	if err != nil {
		return 0, err
	}

	return parseJudgment(resp.Text()), nil
}

// parseJudgment extracts a score in [0, 1] from model output, tolerating
// prose around the number. Unusable output gets the neutral score; the
// call itself succeeded, so similarity-only fallback would overcorrect.
func parseJudgment(raw string) float64 {
	for _, field := range strings.Fields(stripCodeFences(raw)) {
		field = strings.Trim(field, ".,:;")
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return neutralJudgment
}
