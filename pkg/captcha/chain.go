package captcha

import (
	"context"

	"github.com/sirupsen/logrus"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/shared/logging"
)

// Chain runs an ordered list of Strategy implementations against the
// current page (spec §4.5): the first applicable-and-successful
// strategy wins. Strategy ordering is the slice order passed to New.
type Chain struct {
	strategies []extract.Strategy
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

func New(logger *logrus.Logger, strategies ...extract.Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// SetMetrics attaches the collectors spec §6's /metrics route serves.
// Optional: a Chain built without it still runs, it just skips
// recording strategy win rate.
func (c *Chain) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Run satisfies extract.CaptchaChain. If no strategy both applies and
// solves, the operation fails with CaptchaFailed (spec §4.5).
func (c *Chain) Run(ctx context.Context, p extract.Page) (extract.Solution, error) {
	for _, strategy := range c.strategies {
		applicable, err := strategy.Applicable(ctx, p)
		if err != nil {
			c.logger.WithFields(logging.NewFields().Component("captcha").Operation(strategy.Name()).Error(err).ToLogrus()).
				Warn("strategy applicability check failed")
			continue
		}
		if !applicable {
			continue
		}

		solution, err := strategy.Solve(ctx, p)
		if err != nil {
			c.logger.WithFields(logging.NewFields().Component("captcha").Operation(strategy.Name()).Error(err).ToLogrus()).
				Warn("strategy solve failed")
			continue
		}
		if solution.Solved {
			c.logger.WithFields(logging.NewFields().Component("captcha").Operation(strategy.Name()).ToLogrus()).
				Info("captcha solved")
			if c.metrics != nil {
				c.metrics.CaptchaStrategyWins.WithLabelValues(strategy.Name()).Inc()
			}
			return solution, nil
		}
	}

	return extract.Solution{}, apperrors.New(apperrors.ErrorTypeCaptchaFailed, "no strategy in chain solved the challenge")
}
