package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "deskrelay/pkg/logx"
)

// ClientConfig configures the helpdesk API client.
//
// BaseURL and APIKey normally come from the environment (see config.Env);
// the key is sent as a bearer token and never logged.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration // per-request; 0 means 30s
	PageSize int           // 0 means 100
}

type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("helpdesk base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid helpdesk base url: %w", err)
	}
	cfg.BaseURL = base
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

// ticketsPage mirrors the list endpoint's envelope. The cursor is opaque;
// an empty cursor means the last page.
type ticketsPage struct {
	Tickets    []Ticket `json:"tickets"`
	NextCursor string   `json:"next_cursor"`
}

// FetchOpen returns all open tickets of one box, following pagination.
func (c *Client) FetchOpen(ctx context.Context, boxID string) ([]Ticket, error) {
	boxID = strings.TrimSpace(boxID)
	if boxID == "" {
		return nil, errors.New("box id is required")
	}

	var out []Ticket
	cursor := ""
	for page := 0; ; page++ {
		// Hard cap so a misbehaving cursor cannot loop forever.
		if page >= 1000 {
			return nil, fmt.Errorf("box %s: pagination did not terminate", boxID)
		}
		pg, err := c.fetchPage(ctx, boxID, cursor)
		if err != nil {
			return nil, err
		}
		for i := range pg.Tickets {
			pg.Tickets[i].Normalize()
		}
		out = append(out, pg.Tickets...)
		if pg.NextCursor == "" {
			break
		}
		cursor = pg.NextCursor
	}
	c.log.Debug("tickets fetched", logx.String("box", boxID), logx.Int("count", len(out)))
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, boxID, cursor string) (*ticketsPage, error) {
	q := url.Values{}
	q.Set("status", "open")
	q.Set("limit", fmt.Sprint(c.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := fmt.Sprintf("%s/boxes/%s/tickets?%s", c.cfg.BaseURL, url.PathEscape(boxID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("box %s: %w", boxID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a short error body for diagnostics; the API returns text.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("box %s: helpdesk returned %d: %s", boxID, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var pg ticketsPage
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("box %s: decode tickets: %w", boxID, err)
	}
	return &pg, nil
}
