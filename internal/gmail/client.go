package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
)

const (
	// DefaultSearchLimit bounds a search when the caller passes no limit.
	DefaultSearchLimit = 20
	// DefaultFetchConcurrency bounds parallel message fetches.
	DefaultFetchConcurrency = 10

	// userMe is the authenticated user in every Gmail path.
	userMe = "me"
)

// Client searches one user's mailbox with a fixed bearer token.
type Client struct {
	svc         *gmail.UsersService
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	concurrency int
}

// SearchResult is what Search found. Listed counts the ids Gmail returned
// and Dropped those that could not be fetched.
type SearchResult struct {
	Messages []*gmail.Message
	Listed   int
	Dropped  int
}

// NewClient creates a Gmail client that authenticates every call with token.
// opts are appended after the HTTP client, so tests can point the client at a
// fake server with option.WithEndpoint.
func NewClient(ctx context.Context, token *oauth2.Token, opts ...option.ClientOption) (*Client, error) {
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("gmail client needs an access token")
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	allOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	svc, err := gmail.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{
		svc:         svc.Users,
		logger:      slog.Default(),
		concurrency: DefaultFetchConcurrency,
	}, nil
}

// WithLogger sets the logger used for dropped messages.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithMetrics records every Gmail call on m.
func (c *Client) WithMetrics(m *instrumentation.Metrics) *Client {
	c.metrics = m
	return c
}

// WithConcurrency sets how many messages are fetched in parallel.
func (c *Client) WithConcurrency(n int) *Client {
	if n > 0 {
		c.concurrency = n
	}
	return c
}

// Search returns up to limit full messages sent from senderAddress, in the
// order Gmail listed them. The token is checked with a profile call first;
// if Gmail rejects it nothing is listed.
func (c *Client) Search(ctx context.Context, senderAddress string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if err := c.checkProfile(ctx); err != nil {
		return nil, err
	}

	ids, err := c.listMessageIDs(ctx, senderAddress, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &SearchResult{}, nil
	}

	return c.fetchAll(ctx, ids)
}

func (c *Client) checkProfile(ctx context.Context) error {
	err := c.call(ctx, "profile", func(ctx context.Context) error {
		_, err := c.svc.GetProfile(userMe).Context(ctx).Do()
		return err
	})
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Kind: AuthRejected, Op: "profile", Err: err}
	}
	return &ProviderError{Kind: Transport, Op: "profile", Err: err}
}

func (c *Client) listMessageIDs(ctx context.Context, senderAddress string, limit int) ([]string, error) {
	var res *gmail.ListMessagesResponse
	err := c.call(ctx, "list", func(ctx context.Context) error {
		var err error
		res, err = c.svc.Messages.List(userMe).
			Q("from:" + senderAddress).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, &ProviderError{Kind: Transport, Op: "list", Err: err}
	}

	ids := make([]string, 0, len(res.Messages))
	seen := make(map[string]struct{}, len(res.Messages))
	for _, m := range res.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		if _, ok := seen[m.Id]; ok {
			continue
		}
		seen[m.Id] = struct{}{}
		ids = append(ids, m.Id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// fetchAll fetches every id with bounded parallelism. A failed fetch is
// logged and leaves a hole that is compacted away, so the output keeps list
// order. Cancellation of ctx fails the whole search.
func (c *Client) fetchAll(ctx context.Context, ids []string) (*SearchResult, error) {
	results := make([]*gmail.Message, len(ids))
	var dropped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			msg, err := c.getMessage(gctx, id)
			if err != nil {
				fetchErr := &MessageFetchError{ID: id, Err: err}
				c.logger.WarnContext(gctx, "dropping message that could not be fetched",
					logging.MessageID(id),
					logging.Err(fetchErr))
				dropped.Add(1)
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Kind: Transport, Op: "get", Err: err}
	}

	messages := results[:0]
	for _, m := range results {
		if m != nil {
			messages = append(messages, m)
		}
	}

	return &SearchResult{Messages: messages, Listed: len(ids), Dropped: int(dropped.Load())}, nil
}

func (c *Client) getMessage(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.call(ctx, "get", func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Messages.Get(userMe, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if msg.Id == "" {
		msg.Id = id
	}
	return msg, nil
}

// call runs one Gmail request inside a span and records its outcome.
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))

	return err
}
