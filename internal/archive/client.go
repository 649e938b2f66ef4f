// Package archive is the client for the external archive service that
// mirrors entries and their photos. The archive is reached with a single
// POST endpoint taking a JSON body {token, action, ...} and answering
// {success, fileId, url, message}. Only an explicit success:true counts as
// success, whatever the HTTP status.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Actions understood by the archive.
const (
	ActionSync   = "SYNC"
	ActionDelete = "DELETE"
)

// MaxErrorLen caps error messages recorded on entries.
const MaxErrorLen = 500

var (
	// ErrRejected means the archive answered without an explicit success flag.
	ErrRejected = errors.New("archive rejected request")
	// ErrNotConfigured means no endpoint URL was configured for the action.
	ErrNotConfigured = errors.New("archive endpoint not configured")
	// ErrCircuitOpen means recent calls failed and the client is backing off.
	ErrCircuitOpen = errors.New("archive circuit open")
)

// Subject is the entry payload mirrored by a SYNC call.
type Subject struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	ClientTxnID string    `json:"clientTxnId"`
	Name        string    `json:"name"`
	DocNo       string    `json:"docNo"`
	RegNo       string    `json:"regNo"`
	Contact     string    `json:"contact"`
	Remark      string    `json:"remark"`
	Reason      string    `json:"reason"`
	ReasonOther string    `json:"reasonOther,omitempty"`
	Tower       string    `json:"tower,omitempty"`
	Unit        string    `json:"unit,omitempty"`
}

// SyncRequest asks the archive to mirror an entry. PhotoURL is set only when
// there is a new photo to fetch; the archive uploads nothing without it.
type SyncRequest struct {
	Subject  Subject
	PhotoURL string
}

// Result is a successful archive answer.
type Result struct {
	FileID  string
	URL     string
	Message string
}

type requestBody struct {
	Token    string   `json:"token"`
	Action   string   `json:"action"`
	Entry    *Subject `json:"entry,omitempty"`
	PhotoURL string   `json:"photoUrl,omitempty"`
	FileIDs  []string `json:"fileIds,omitempty"`
}

type responseBody struct {
	Success *bool  `json:"success"`
	FileID  string `json:"fileId"`
	URL     string `json:"url"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Options configures a Client.
type Options struct {
	SyncURL   string
	DeleteURL string // defaults to SyncURL
	Token     string
	Timeout   time.Duration

	// BreakerThreshold consecutive failures open the circuit for
	// BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client
}

// Client calls the archive service. It is safe for concurrent use.
type Client struct {
	syncURL   string
	deleteURL string
	token     string
	http      *http.Client
	breaker   *breaker
}

// New returns a Client for opts.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	del := opts.DeleteURL
	if del == "" {
		del = opts.SyncURL
	}
	c := &Client{
		syncURL:   opts.SyncURL,
		deleteURL: del,
		token:     opts.Token,
		http:      hc,
	}
	if opts.BreakerThreshold > 0 {
		cooldown := opts.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		c.breaker = newBreaker(opts.BreakerThreshold, cooldown)
	}
	return c
}

// Sync mirrors an entry.
func (c *Client) Sync(ctx context.Context, req SyncRequest) (Result, error) {
	subject := req.Subject
	return c.call(ctx, c.syncURL, requestBody{
		Token:    c.token,
		Action:   ActionSync,
		Entry:    &subject,
		PhotoURL: req.PhotoURL,
	})
}

// Delete removes archived files by id.
func (c *Client) Delete(ctx context.Context, fileIDs []string) (Result, error) {
	if len(fileIDs) == 0 {
		return Result{}, nil
	}
	return c.call(ctx, c.deleteURL, requestBody{
		Token:   c.token,
		Action:  ActionDelete,
		FileIDs: fileIDs,
	})
}

// CircuitOpen reports whether the client is currently backing off.
func (c *Client) CircuitOpen() bool { return c.breaker.IsOpen() }

func (c *Client) call(ctx context.Context, url string, body requestBody) (Result, error) {
	if url == "" {
		return Result{}, ErrNotConfigured
	}
	if !c.breaker.Allow() {
		return Result{}, ErrCircuitOpen
	}
	res, err := c.do(ctx, url, body)
	if err != nil {
		// A rejection proves the archive is reachable.
		if errors.Is(err, ErrRejected) {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure()
		}
		return Result{}, err
	}
	c.breaker.RecordSuccess()
	return res, nil
}

func (c *Client) do(ctx context.Context, url string, body requestBody) (Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("archive: encode %s: %w", body.Action, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("archive: build %s: %w", body.Action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("archive: %s: %w", body.Action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("archive: %s: read body: %w", body.Action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("archive: %s: http %d: %s", body.Action, resp.StatusCode, Truncate(strings.TrimSpace(string(raw)), 200))
	}

	var out responseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("archive: %s: unparsable response: %w", body.Action, err)
	}
	if out.Success == nil || !*out.Success {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			return Result{}, fmt.Errorf("archive: %s: %w", body.Action, ErrRejected)
		}
		return Result{}, fmt.Errorf("archive: %s: %w: %s", body.Action, ErrRejected, Truncate(msg, 200))
	}
	return Result{FileID: out.FileID, URL: out.URL, Message: out.Message}, nil
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
