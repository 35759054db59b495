package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultAttributes are the sub-scores requested from the scoring
// service on every call.
var DefaultAttributes = []string{"TOXICITY", "INSULT", "PROFANITY"}

const defaultScoringTimeout = 3 * time.Second

// ScoringClient talks to a Perspective-style comment analysis endpoint:
// request carries the content text plus requested attributes, response
// carries one summary score in [0,1] per attribute. Timeouts and error
// responses are hard errors; the classifier maps them to needs_review.
type ScoringClient struct {
	endpoint   string
	apiKey     string
	attributes []string
	client     *http.Client
}

func NewScoringClient(endpoint, apiKey string, timeout time.Duration) *ScoringClient {
	if timeout <= 0 {
		timeout = defaultScoringTimeout
	}
	return &ScoringClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		attributes: DefaultAttributes,
		client:     &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Comment             scoreComment        `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
}

type scoreComment struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

func (c *ScoringClient) Score(ctx context.Context, content string) (map[string]float64, error) {
	reqBody := scoreRequest{
		Comment:             scoreComment{Text: content},
		RequestedAttributes: make(map[string]struct{}, len(c.attributes)),
	}
	for _, attr := range c.attributes {
		reqBody.RequestedAttributes[attr] = struct{}{}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "encode scoring request")
	}

	url := c.endpoint
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build scoring request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call scoring service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("scoring service returned %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode scoring response")
	}
	if len(decoded.AttributeScores) == 0 {
		return nil, errors.New("scoring response has no attribute scores")
	}

	scores := make(map[string]float64, len(decoded.AttributeScores))
	for attr, s := range decoded.AttributeScores {
		scores[attr] = s.SummaryScore.Value
	}
	return scores, nil
}
