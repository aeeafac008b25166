// Package extract defines the Page handle, Extractor, and
// FormSubmitter contracts (spec §4.7). It holds interfaces only: the
// concrete Portal DOM contract (selectors, field names, JS snippets)
// is out of scope for this specification and belongs to a deployment-
// specific implementation built against these contracts.
package extract

import (
	"context"
	"time"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/normalize"
)

// Page is the minimal handle a Strategy, Extractor, or FormSubmitter
// needs: a live browser tab's context, already set up with the
// resource-blocking and anti-detection policy of the pool that opened
// it (spec §4.4). Implemented by *browserpool.Page.
type Page interface {
	Context() context.Context
}

// PageState is the classified outcome of a form submission (spec §4.6
// step 4): exactly one of these is reached before the Worker proceeds.
type PageState string

const (
	PageStateResults      PageState = "results"
	PageStateNoResults    PageState = "no_results"
	PageStateCaptchaError PageState = "captcha_error"
	PageStateAntibot      PageState = "antibot_detected"
)

// FormSubmitter implements the Portal-specific steps of the Worker's
// pipeline (spec §4.7). A CaptchaChain is threaded through both
// Navigate and Submit since either may land on an interposed antibot
// or CAPTCHA page.
type FormSubmitter interface {
	// Navigate leaves page on the case-search form view. It raises
	// PortalUnreachable after its own configurable retry budget.
	Navigate(ctx context.Context, page Page, chain CaptchaChain) error

	// Submit enters caseNumber/partyName, runs chain on the form page,
	// clicks submit, and waits for one of the four classified states.
	// It enforces the interposed-antibot retry loop itself (max 2
	// retries: run chain on the interposed page, re-navigate on
	// success) rather than leaving that to the caller.
	Submit(ctx context.Context, page Page, caseNumber, partyName string, chain CaptchaChain) (PageState, error)

	// ExtractBinnacles returns the case file's procedural history in
	// display order, 1-based Index assigned by the caller's position
	// in the returned slice.
	ExtractBinnacles(ctx context.Context, page Page) ([]normalize.RawBinnacle, error)

	// ExtractNotifications returns the notifications attached to the
	// binnacle at binnacleIndex.
	ExtractNotifications(ctx context.Context, page Page, binnacleIndex int) ([]RawNotification, error)

	// ExtractFileLink returns the attachment URL for binnacleIndex, or
	// "" if the binnacle has no attachment.
	ExtractFileLink(ctx context.Context, page Page, binnacleIndex int) (string, error)

	// DownloadFile fetches url to a local temporary path. It never
	// raises on HTTP-level failure (404, timeout): it returns "" so a
	// missing attachment does not fail the whole scrape.
	DownloadFile(ctx context.Context, page Page, url string) (string, error)
}

// RawNotification mirrors the Portal's notification row before
// normalization; see domain.Notification for the persisted shape.
type RawNotification struct {
	Code           string
	Addressee      string
	DeliveryMethod string
	ShipDate       string
	NotifiedAt     string
	ReceivedAt     string
	RespondedAt    string
	ExpiredAt      string
	CancelledAt    string
	ReturnedAt     string
}

// Solution is what a CAPTCHA Strategy produces on success (spec §4.5).
type Solution struct {
	Solved   bool
	Solution string // visible-field text, for audio/image strategies
	Token    string // challenge token, for interactive-challenge strategies
}

// Strategy is one CAPTCHA-solving approach (spec §4.5): applicable is
// a cheap page inspection; solve may perform network I/O to an
// external solver and must never click the page's final submit
// control — that remains the FormSubmitter's responsibility.
type Strategy interface {
	Name() string
	Applicable(ctx context.Context, page Page) (bool, error)
	Solve(ctx context.Context, page Page) (Solution, error)
}

// CaptchaChain runs an ordered list of Strategy implementations
// against the current page, spec §4.5: the first applicable-and-
// successful strategy wins.
type CaptchaChain interface {
	Run(ctx context.Context, page Page) (Solution, error)
}

// SolverTimeout bounds a single Strategy.Solve call against an
// external solver API (spec §6); FormSubmitter retry loops and the
// Worker's overall job deadline are independent of this.
const SolverTimeout = 20 * time.Second
