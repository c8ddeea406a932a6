package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTavilyEndpoint = "https://api.tavily.com/search"
	defaultMaxResults     = 10
	maxErrorBodyBytes     = 4 << 10
)

// TavilySearch queries the Tavily web search API.
type TavilySearch struct {
	apiKey     string
	endpoint   string
	maxResults int
	httpClient *http.Client
}

func NewTavilySearch(apiKey, endpoint string, maxResults int, httpClient *http.Client) *TavilySearch {
	if endpoint == "" {
		endpoint = DefaultTavilyEndpoint
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TavilySearch{apiKey: apiKey, endpoint: endpoint, maxResults: maxResults, httpClient: httpClient}
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Results []struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
}

// Search returns the hits for query. Full page text is preferred over the
// snippet; hits with neither are dropped.
func (t *TavilySearch) Search(ctx context.Context, query string) ([]Document, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:            t.apiKey,
		Query:             query,
		MaxResults:        t.maxResults,
		IncludeRawContent: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tavily request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tavily request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tavily request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("tavily returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode tavily response")
	}

	docs := make([]Document, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		content := strings.TrimSpace(r.RawContent)
		if content == "" {
			content = strings.TrimSpace(r.Content)
		}
		if content == "" {
			log.Debug().Str("url", r.URL).Msg("Skipping search hit without content")
			continue
		}
		docs = append(docs, Document{Title: r.Title, URL: r.URL, Content: content})
	}
	return docs, nil
}
