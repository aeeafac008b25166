package captcha

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
)

// InteractiveStrategy handles a third-party challenge widget (e.g. a
// checkbox-and-tile iframe): it extracts the widget's site key,
// submits (siteKey, pageUrl) to an external solver, injects the
// returned token into every response field, and invokes the page's
// own completion callback (spec §4.5).
type InteractiveStrategy struct {
	sel    Selectors
	solver Solver
}

func NewInteractiveStrategy(sel Selectors, solver Solver) *InteractiveStrategy {
	return &InteractiveStrategy{sel: sel, solver: solver}
}

func (s *InteractiveStrategy) Name() string { return "interactive_challenge" }

func (s *InteractiveStrategy) Applicable(ctx context.Context, p extract.Page) (bool, error) {
	var present bool
	err := chromedp.Run(p.Context(), chromedp.EvaluateAsDevTools(existsJS(s.sel.ChallengeIframe), &present))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "probe challenge iframe")
	}
	return present, nil
}

func (s *InteractiveStrategy) Solve(ctx context.Context, p extract.Page) (extract.Solution, error) {
	var siteKey, pageURL string
	err := chromedp.Run(p.Context(),
		chromedp.AttributeValue(s.sel.ChallengeIframe, s.sel.ChallengeSiteKeyAttr, &siteKey, nil, chromedp.ByQuery),
		chromedp.Location(&pageURL),
	)
	if err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "read challenge site key")
	}
	if siteKey == "" {
		return extract.Solution{Solved: false}, nil
	}

	token, err := s.solver.SolveChallenge(ctx, siteKey, pageURL)
	if err != nil {
		return extract.Solution{}, err
	}
	if token == "" {
		return extract.Solution{Solved: false}, nil
	}

	var callbackInvoked bool
	actions := make([]chromedp.Action, 0, len(s.sel.ChallengeTokenFields)+1)
	for _, field := range s.sel.ChallengeTokenFields {
		actions = append(actions, chromedp.SetValue(field, token, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.EvaluateAsDevTools(
		fmt.Sprintf("typeof %s === 'function' && (%s(%s), true)", s.sel.ChallengeCallbackJS, s.sel.ChallengeCallbackJS, jsQuote(token)),
		&callbackInvoked,
	))

	if err := chromedp.Run(p.Context(), actions...); err != nil {
		return extract.Solution{}, apperrors.Wrap(err, apperrors.ErrorTypeCaptchaFailed, "inject challenge token")
	}
	return extract.Solution{Solved: true, Token: token}, nil
}
