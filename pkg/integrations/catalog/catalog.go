// Package catalog assembles the built-in integration registry.
package catalog

import (
	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/integrations/bucket"
	"github.com/cloudmoor/cloudmoor/pkg/integrations/cdn"
	"github.com/cloudmoor/cloudmoor/pkg/integrations/database"
	"github.com/cloudmoor/cloudmoor/pkg/integrations/subscription"
)

// Default returns a registry with every built-in integration registered.
func Default() *integrations.Registry {
	r := integrations.NewRegistry()
	// Register cannot fail here: the kinds are distinct constants.
	_ = r.Register(bucket.Kind, bucket.New)
	_ = r.Register(cdn.Kind, cdn.New)
	_ = r.Register(database.Kind, database.New)
	_ = r.Register(subscription.Kind, subscription.New)
	return r
}
