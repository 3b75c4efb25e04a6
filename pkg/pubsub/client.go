package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub domain topic is required")
)

// Client publishes storefront events. Each aggregate maps to one topic.
type Client struct {
	client    *pubsub.Client
	projectID string
	routes    topicRoutes
}

type topicRoutes struct {
	domain    string
	payment   string
	inventory string
}

func routesFrom(cfg config.PubSubConfig) topicRoutes {
	r := topicRoutes{
		domain:    strings.TrimSpace(cfg.DomainTopic),
		payment:   strings.TrimSpace(cfg.PaymentTopic),
		inventory: strings.TrimSpace(cfg.InventoryTopic),
	}
	if r.payment == "" {
		r.payment = r.domain
	}
	if r.inventory == "" {
		r.inventory = r.domain
	}
	return r
}

func (r topicRoutes) forAggregate(a enums.OutboxAggregateType) string {
	switch a {
	case enums.AggregatePayment:
		return r.payment
	case enums.AggregateInventory:
		return r.inventory
	default:
		return r.domain
	}
}

// distinct lists every configured topic once.
func (r topicRoutes) distinct() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range []string{r.domain, r.payment, r.inventory} {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// NewClient creates a Pub/Sub v2 client and checks that every routed topic
// exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	routes := routesFrom(cfg)
	if routes.domain == "" {
		return nil, errNoTopic
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: gcp.ProjectID, routes: routes}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", routes.distinct()), "pubsub client initialized")
	}
	return c, nil
}

// TopicFor returns the topic events of the aggregate are published to.
func (c *Client) TopicFor(a enums.OutboxAggregateType) string {
	if c == nil {
		return ""
	}
	return c.routes.forAggregate(a)
}

// Publisher returns a publisher handle for a topic id or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// Ping verifies connectivity by looking up every routed topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, name := range c.routes.distinct() {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicResourceName(c.projectID, name)})
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		if err != nil {
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
