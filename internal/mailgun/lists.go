package mailgun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
)

// ListAddresses walks every page of the lists API and returns the address of
// each mailing list in provider order.
//
// Enumeration is best effort: a 404 ends the walk quietly, any other failure is
// logged and also ends it. Either way the addresses gathered so far are returned.
func (c *Client) ListAddresses(ctx context.Context) []string {
	addresses := make([]string, 0, c.pageLimit)
	pageURL := fmt.Sprintf("%s/pages?limit=%d", c.listsURL(), c.pageLimit)
	visited := make(map[string]bool)

	for pageNum := 1; ; pageNum++ {
		visited[pageURL] = true

		page, err := c.listPage(ctx, pageURL)
		if err != nil {
			if !IsNotFound(err) {
				logger.Warn("mailgun: list enumeration stopped early",
					"page", pageNum, "collected", len(addresses), "error", err)
			}
			return addresses
		}

		for _, item := range page.Items {
			addresses = append(addresses, item.Address)
		}

		if page.Paging.Next == "" || len(page.Items) == 0 {
			return addresses
		}

		next, err := c.nextPageURL(page.Paging.Next)
		if err != nil {
			logger.Warn("mailgun: unusable next-page link",
				"page", pageNum, "next", page.Paging.Next, "error", err)
			return addresses
		}
		if visited[next] {
			logger.Warn("mailgun: next-page link repeats a visited page",
				"page", pageNum, "next", next)
			return addresses
		}
		pageURL = next
	}
}

// listPage fetches and decodes a single lists page
func (c *Client) listPage(ctx context.Context, pageURL string) (*ListsPage, error) {
	body, err := c.doRequest(ctx, http.MethodGet, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetching list page: %w", err)
	}

	var page ListsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing list page: %w", err)
	}
	return &page, nil
}

// nextPageURL rebuilds the provider's next link against our own base URL.
// Page-number parameters are dropped so they cannot fight the limit we set;
// every other parameter (address cursor, limit) is kept.
func (c *Client) nextPageURL(next string) (string, error) {
	rawQuery := next
	if i := strings.Index(next, "?"); i >= 0 {
		rawQuery = next[i+1:]
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parsing next-page query: %w", err)
	}

	params := url.Values{}
	for key, vals := range values {
		if strings.Contains(strings.ToLower(key), "page") {
			continue
		}
		for _, v := range vals {
			params.Add(key, v)
		}
	}
	if params.Get("limit") == "" {
		params.Set("limit", strconv.Itoa(c.pageLimit))
	}

	return c.listsURL() + "/pages?" + params.Encode(), nil
}
