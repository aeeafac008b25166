package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/normalize"
)

// Config tunes the FormSubmitter's own retry budgets (spec §4.7).
type Config struct {
	BaseURL          string
	MaxNavRetries    int
	MaxAntibotRetry  int
	NavigateTimeout  time.Duration
	HTTPTimeout      time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		MaxNavRetries:   3,
		MaxAntibotRetry: 2,
		NavigateTimeout: 30 * time.Second,
		HTTPTimeout:     20 * time.Second,
	}
}

// FormSubmitter implements extract.FormSubmitter against the Portal's
// case-search form (spec §4.7).
type FormSubmitter struct {
	cfg    Config
	sel    Selectors
	client *http.Client
}

func New(cfg Config, sel Selectors) *FormSubmitter {
	return &FormSubmitter{
		cfg:    cfg,
		sel:    sel,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Navigate leaves page on the case-search form view, retrying up to
// MaxNavRetries times before raising PortalUnreachable.
func (f *FormSubmitter) Navigate(ctx context.Context, page extract.Page, chain extract.CaptchaChain) error {
	var lastErr error
	attempts := f.cfg.MaxNavRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		navCtx, cancel := context.WithTimeout(page.Context(), f.cfg.NavigateTimeout)
		err := chromedp.Run(navCtx,
			chromedp.Navigate(f.cfg.BaseURL),
			chromedp.WaitVisible(f.sel.CaseNumberField, chromedp.ByQuery),
		)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return apperrors.Wrap(lastErr, apperrors.ErrorTypePortalUnreachable, "navigate to case-search form")
}

// Submit enters caseNumber/partyName, runs chain on the form page,
// clicks submit, and classifies the resulting page state. It enforces
// the interposed-antibot retry loop itself: if the antibot banner
// appears post-submit, chain runs again against the interposed page
// and, on success, Navigate re-runs before the submit is retried (spec
// §4.6 step 4, §4.7).
func (f *FormSubmitter) Submit(ctx context.Context, page extract.Page, caseNumber, partyName string, chain extract.CaptchaChain) (extract.PageState, error) {
	if err := f.fillAndSubmit(page, caseNumber, partyName, chain); err != nil {
		return "", err
	}

	state, err := f.classify(page)
	if err != nil {
		return "", err
	}

	retries := f.cfg.MaxAntibotRetry
	for attempt := 0; state == extract.PageStateAntibot && attempt < retries; attempt++ {
		if _, err := chain.Run(ctx, page); err != nil {
			return "", err
		}
		if err := f.Navigate(ctx, page, chain); err != nil {
			return "", err
		}
		if err := f.fillAndSubmit(page, caseNumber, partyName, chain); err != nil {
			return "", err
		}
		state, err = f.classify(page)
		if err != nil {
			return "", err
		}
	}
	return state, nil
}

func (f *FormSubmitter) fillAndSubmit(page extract.Page, caseNumber, partyName string, chain extract.CaptchaChain) error {
	if _, err := chain.Run(page.Context(), page); err != nil {
		return err
	}
	err := chromedp.Run(page.Context(),
		chromedp.SetValue(f.sel.CaseNumberField, caseNumber, chromedp.ByQuery),
		chromedp.SetValue(f.sel.PartyNameField, partyName, chromedp.ByQuery),
		chromedp.Click(f.sel.SubmitButton, chromedp.ByQuery),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "submit case-search form")
	}
	return nil
}

func (f *FormSubmitter) classify(page extract.Page) (extract.PageState, error) {
	var antibot, captchaErr, noResults, results bool
	err := chromedp.Run(page.Context(),
		chromedp.EvaluateAsDevTools(existsJS(f.sel.AntibotBanner), &antibot),
		chromedp.EvaluateAsDevTools(existsJS(f.sel.CaptchaErrorText), &captchaErr),
		chromedp.EvaluateAsDevTools(existsJS(f.sel.NoResultsBanner), &noResults),
		chromedp.EvaluateAsDevTools(existsJS(f.sel.ResultsTable), &results),
	)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "classify submit result")
	}
	switch {
	case antibot:
		return extract.PageStateAntibot, nil
	case captchaErr:
		return extract.PageStateCaptchaError, nil
	case noResults:
		return extract.PageStateNoResults, nil
	case results:
		return extract.PageStateResults, nil
	}
	return "", apperrors.New(apperrors.ErrorTypePortalUnreachable, "submit landed on an unrecognized page state")
}

// rawRow mirrors one results-table row's cell text before any parsing
// — every normalize rule (trim, date format, "-" sentinel) runs later
// in pkg/normalize, never here.
type rawRow struct {
	ResolutionDate    string `json:"resolutionDate"`
	EntryDate         string `json:"entryDate"`
	Resolution        string `json:"resolution"`
	NotificationType  string `json:"notificationType"`
	Acto              string `json:"acto"`
	Fojas             string `json:"fojas"`
	Folios            string `json:"folios"`
	ProvedioDate      string `json:"provedioDate"`
	Sumilla           string `json:"sumilla"`
	UserDescription   string `json:"userDescription"`
	NotificationCount string `json:"notificationCount"`
}

func (f *FormSubmitter) ExtractBinnacles(ctx context.Context, page extract.Page) ([]normalize.RawBinnacle, error) {
	var rows []rawRow
	err := chromedp.Run(page.Context(),
		chromedp.Evaluate(rowExtractJS(f.sel.BinnacleRow), &rows),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "extract binnacles")
	}
	out := make([]normalize.RawBinnacle, len(rows))
	for i, r := range rows {
		count, _ := strconv.Atoi(r.NotificationCount)
		out[i] = normalize.RawBinnacle{
			Index:             i + 1,
			ResolutionDate:    r.ResolutionDate,
			EntryDate:         r.EntryDate,
			Resolution:        r.Resolution,
			NotificationType:  r.NotificationType,
			Acto:              r.Acto,
			Fojas:             r.Fojas,
			Folios:            r.Folios,
			ProvedioDate:      r.ProvedioDate,
			Sumilla:           r.Sumilla,
			UserDescription:   r.UserDescription,
			NotificationCount: count,
		}
	}
	return out, nil
}

func (f *FormSubmitter) ExtractNotifications(ctx context.Context, page extract.Page, binnacleIndex int) ([]extract.RawNotification, error) {
	selector := fmt.Sprintf("%s%d tr", f.sel.NotificationRowPrefix, binnacleIndex)
	var notifications []extract.RawNotification
	err := chromedp.Run(page.Context(),
		chromedp.Evaluate(notificationExtractJS(selector), &notifications),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "extract notifications")
	}
	return notifications, nil
}

func (f *FormSubmitter) ExtractFileLink(ctx context.Context, page extract.Page, binnacleIndex int) (string, error) {
	selector := fmt.Sprintf("%s%d", f.sel.FileLinkPrefix, binnacleIndex)
	var present bool
	if err := chromedp.Run(page.Context(), chromedp.EvaluateAsDevTools(existsJS(selector), &present)); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "probe file link")
	}
	if !present {
		return "", nil
	}
	var href string
	err := chromedp.Run(page.Context(), chromedp.AttributeValue(selector, "href", &href, nil, chromedp.ByQuery))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, "read file link href")
	}
	return href, nil
}

// DownloadFile never raises on HTTP-level failure (spec §4.7): a
// missing or unreachable attachment must not fail the whole scrape.
func (f *FormSubmitter) DownloadFile(ctx context.Context, page extract.Page, url string) (string, error) {
	if url == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	tmpPath := filepath.Join(os.TempDir(), uuid.NewString())
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", nil
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", nil
	}
	return tmpPath, nil
}

func existsJS(selector string) string {
	return fmt.Sprintf("document.querySelector(%q) !== null", selector)
}

func rowExtractJS(rowSelector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(function(row) {
		var cells = row.querySelectorAll('td');
		return {
			resolutionDate: cells[0] ? cells[0].innerText : '',
			entryDate: cells[1] ? cells[1].innerText : '',
			resolution: cells[2] ? cells[2].innerText : '',
			notificationType: cells[3] ? cells[3].innerText : '',
			acto: cells[4] ? cells[4].innerText : '',
			fojas: cells[5] ? cells[5].innerText : '',
			folios: cells[6] ? cells[6].innerText : '',
			provedioDate: cells[7] ? cells[7].innerText : '',
			sumilla: cells[8] ? cells[8].innerText : '',
			userDescription: cells[9] ? cells[9].innerText : '',
			notificationCount: cells[10] ? cells[10].innerText : '0'
		};
	})`, rowSelector)
}

func notificationExtractJS(rowSelector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(function(row) {
		var cells = row.querySelectorAll('td');
		return {
			Code: cells[0] ? cells[0].innerText : '',
			Addressee: cells[1] ? cells[1].innerText : '',
			DeliveryMethod: cells[2] ? cells[2].innerText : '',
			ShipDate: cells[3] ? cells[3].innerText : '',
			NotifiedAt: cells[4] ? cells[4].innerText : '',
			ReceivedAt: cells[5] ? cells[5].innerText : '',
			RespondedAt: cells[6] ? cells[6].innerText : '',
			ExpiredAt: cells[7] ? cells[7].innerText : '',
			CancelledAt: cells[8] ? cells[8].innerText : '',
			ReturnedAt: cells[9] ? cells[9].innerText : ''
		};
	})`, rowSelector)
}
