package captcha

import (
	"context"

	"github.com/chromedp/chromedp"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
)

// AudioStrategy triggers the Portal's audio CAPTCHA playback and reads
// the answer the Portal itself writes into a hidden field (spec §4.5:
// free, fastest, preferred — tried first by default ordering).
type AudioStrategy struct {
	sel Selectors
}

func NewAudioStrategy(sel Selectors) *AudioStrategy {
	return &AudioStrategy{sel: sel}
}

func (s *AudioStrategy) Name() string { return "audio" }

func (s *AudioStrategy) Applicable(ctx context.Context, p extract.Page) (bool, error) {
	var present bool
	err := chromedp.Run(p.Context(), chromedp.EvaluateAsDevTools(
		existsJS(s.sel.AudioTriggerButton), &present,
	))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "probe audio trigger")
	}
	return present, nil
}

func (s *AudioStrategy) Solve(ctx context.Context, p extract.Page) (extract.Solution, error) {
	var answer string
	err := chromedp.Run(p.Context(),
		chromedp.Click(s.sel.AudioTriggerButton, chromedp.ByQuery),
		chromedp.WaitVisible(s.sel.AudioHiddenField, chromedp.ByQuery),
		chromedp.Value(s.sel.AudioHiddenField, &answer, chromedp.ByQuery),
	)
	if err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "play audio challenge")
	}
	if answer == "" {
		return extract.Solution{Solved: false}, nil
	}

	if err := chromedp.Run(p.Context(), chromedp.SetValue(s.sel.AudioVisibleField, answer, chromedp.ByQuery)); err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "fill audio answer field")
	}
	return extract.Solution{Solved: true, Solution: answer}, nil
}

// existsJS returns a JS expression evaluating whether selector matches
// an element, reused by every Strategy's Applicable check.
func existsJS(selector string) string {
	return "document.querySelector(" + jsQuote(selector) + ") !== null"
}

func jsQuote(s string) string {
	return "'" + s + "'"
}
