package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/sf-domain-events", topicResourceName("p1", "sf-domain-events"))
	assert.Equal(t, "projects/other/topics/x", topicResourceName("p1", "projects/other/topics/x"))
	assert.Empty(t, topicResourceName("", "sf-domain-events"))
	assert.Empty(t, topicResourceName("p1", "  "))
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("topic"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}

func TestTopicRoutesFallBackToDomain(t *testing.T) {
	routes := routesFrom(config.PubSubConfig{DomainTopic: "sf-domain-events", PaymentTopic: " sf-payments "})

	assert.Equal(t, "sf-domain-events", routes.forAggregate(enums.AggregateOrder))
	assert.Equal(t, "sf-payments", routes.forAggregate(enums.AggregatePayment))
	assert.Equal(t, "sf-domain-events", routes.forAggregate(enums.AggregateInventory))
	assert.Equal(t, []string{"sf-domain-events", "sf-payments"}, routes.distinct())

	var c *Client
	assert.Empty(t, c.TopicFor(enums.AggregatePayment))
}
