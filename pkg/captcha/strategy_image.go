package captcha

import (
	"context"

	"github.com/chromedp/chromedp"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
)

// ImageStrategy screenshots the CAPTCHA image element, submits it to
// an external image-to-text solver, and writes the answer into both
// the visible code field and the antibot hidden field (spec §4.5).
type ImageStrategy struct {
	sel    Selectors
	solver Solver
}

func NewImageStrategy(sel Selectors, solver Solver) *ImageStrategy {
	return &ImageStrategy{sel: sel, solver: solver}
}

func (s *ImageStrategy) Name() string { return "image" }

func (s *ImageStrategy) Applicable(ctx context.Context, p extract.Page) (bool, error) {
	var present bool
	err := chromedp.Run(p.Context(), chromedp.EvaluateAsDevTools(existsJS(s.sel.ImageElement), &present))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "probe captcha image")
	}
	return present, nil
}

func (s *ImageStrategy) Solve(ctx context.Context, p extract.Page) (extract.Solution, error) {
	var imagePNG []byte
	err := chromedp.Run(p.Context(),
		chromedp.WaitVisible(s.sel.ImageElement, chromedp.ByQuery),
		chromedp.Screenshot(s.sel.ImageElement, &imagePNG, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "capture captcha image")
	}

	answer, err := s.solver.SolveImage(ctx, imagePNG)
	if err != nil {
		return extract.Solution{}, err
	}
	if answer == "" {
		return extract.Solution{Solved: false}, nil
	}

	err = chromedp.Run(p.Context(),
		chromedp.SetValue(s.sel.ImageVisibleField, answer, chromedp.ByQuery),
		chromedp.SetValue(s.sel.ImageAntibotField, answer, chromedp.ByQuery),
	)
	if err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "fill image answer fields")
	}
	return extract.Solution{Solved: true, Solution: answer}, nil
}
