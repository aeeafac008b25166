package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/orchestration/dependency"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/shared/httpclient"
)

// Solver is the external CAPTCHA-solving boundary (spec §4.5's "external
// solver service", assumed by the Non-goals — this module never solves
// CAPTCHAs algorithmically). One solver instance is shared across every
// Strategy that needs network I/O.
type Solver interface {
	// SolveImage submits a CAPTCHA image for text recognition.
	SolveImage(ctx context.Context, imagePNG []byte) (string, error)
	// SolveChallenge submits an interactive challenge's site key and the
	// page URL it was served on, returning a response token.
	SolveChallenge(ctx context.Context, siteKey, pageURL string) (string, error)
}

// HTTPSolverConfig configures the reference HTTP solver client.
type HTTPSolverConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func DefaultHTTPSolverConfig(baseURL, apiKey string) HTTPSolverConfig {
	return HTTPSolverConfig{BaseURL: baseURL, APIKey: apiKey, Timeout: 20 * time.Second}
}

// httpSolver calls an external image-to-text / challenge-token solver
// API over HTTP, guarded by a circuit breaker so a down solver fails
// fast instead of blocking every in-flight Worker on a dead dependency
// (spec §4.5, §9).
type httpSolver struct {
	client  *http.Client
	cfg     HTTPSolverConfig
	breaker *dependency.CircuitBreaker
}

// NewHTTPSolver builds a Solver backed by a real HTTP API, using the
// Solver-tuned client preset and a dedicated circuit breaker so solver
// outages don't cascade into every open browser page.
func NewHTTPSolver(cfg HTTPSolverConfig) Solver {
	return &httpSolver{
		client:  httpclient.NewClient(httpclient.SolverClientConfig(cfg.Timeout)),
		cfg:     cfg,
		breaker: dependency.NewCircuitBreaker("captcha-solver", 0.5, 30*time.Second),
	}
}

type imageSolveRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type imageSolveResponse struct {
	Text string `json:"text"`
}

func (s *httpSolver) SolveImage(ctx context.Context, imagePNG []byte) (string, error) {
	var result string
	err := s.breaker.Call(func() error {
		body, err := json.Marshal(imageSolveRequest{ImageBase64: encodeBase64(imagePNG)})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "marshal image solve request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/solve/image", bytes.NewReader(body))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "build image solve request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "call image solver")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apperrors.New(apperrors.ErrorTypeSolverAPI, fmt.Sprintf("image solver returned %d", resp.StatusCode))
		}

		var parsed imageSolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "decode image solve response")
		}
		result = parsed.Text
		return nil
	})
	return result, err
}

type challengeSolveRequest struct {
	SiteKey string `json:"site_key"`
	PageURL string `json:"page_url"`
}

type challengeSolveResponse struct {
	Token string `json:"token"`
}

func (s *httpSolver) SolveChallenge(ctx context.Context, siteKey, pageURL string) (string, error) {
	var result string
	err := s.breaker.Call(func() error {
		body, err := json.Marshal(challengeSolveRequest{SiteKey: siteKey, PageURL: pageURL})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "marshal challenge solve request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/solve/challenge", bytes.NewReader(body))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "build challenge solve request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "call challenge solver")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apperrors.New(apperrors.ErrorTypeSolverAPI, fmt.Sprintf("challenge solver returned %d", resp.StatusCode))
		}

		var parsed challengeSolveResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeSolverAPI, "decode challenge solve response")
		}
		result = parsed.Token
		return nil
	})
	return result, err
}
