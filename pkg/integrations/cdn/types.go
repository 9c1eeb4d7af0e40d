package cdn

import (
	"encoding/xml"
	"fmt"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
)

// distribution is the vendor's view of a CDN distribution.
type distribution struct {
	XMLName    xml.Name           `xml:"Distribution"`
	ID         string             `xml:"Id"`
	ARN        string             `xml:"ARN"`
	Status     string             `xml:"Status"`
	DomainName string             `xml:"DomainName"`
	Config     distributionConfig `xml:"DistributionConfig"`
}

// distributionConfig is the mutable configuration document round-tripped
// through update and disable calls.
type distributionConfig struct {
	XMLName         xml.Name `xml:"DistributionConfig"`
	CallerReference string   `xml:"CallerReference"`
	Comment         string   `xml:"Comment"`
	Enabled         bool     `xml:"Enabled"`
	Origins         origins  `xml:"Origins"`
	Aliases         aliases  `xml:"Aliases"`
}

type origins struct {
	Quantity int      `xml:"Quantity"`
	Items    []origin `xml:"Items>Origin"`
}

type origin struct {
	ID         string `xml:"Id"`
	DomainName string `xml:"DomainName"`
}

type aliases struct {
	Quantity int      `xml:"Quantity"`
	Items    []string `xml:"Items>CNAME"`
}

// distributionList is the list endpoint's response, used for adoption
// lookups.
type distributionList struct {
	XMLName xml.Name           `xml:"DistributionList"`
	Items   []distributionItem `xml:"Items>DistributionSummary"`
}

type distributionItem struct {
	ID              string `xml:"Id"`
	ARN             string `xml:"ARN"`
	Status          string `xml:"Status"`
	DomainName      string `xml:"DomainName"`
	CallerReference string `xml:"CallerReference"`
}

// invalidationBatch is the create-invalidation request body.
type invalidationBatch struct {
	XMLName         xml.Name          `xml:"InvalidationBatch"`
	CallerReference string            `xml:"CallerReference"`
	Paths           invalidationPaths `xml:"Paths"`
}

type invalidationPaths struct {
	Quantity int      `xml:"Quantity"`
	Items    []string `xml:"Items>Path"`
}

// invalidation is the vendor's view of an invalidation batch.
type invalidation struct {
	XMLName xml.Name `xml:"Invalidation"`
	ID      string   `xml:"Id"`
	Status  string   `xml:"Status"`
}

// configFromDefinition maps the declarative definition onto the vendor
// document. The definition arrives reconstructed, so "origins" and
// "aliases" are plain arrays here even when the host flattened them.
func configFromDefinition(def reconcile.Definition) (*distributionConfig, error) {
	name := def.String("name")
	if name == "" {
		return nil, reconcile.NewPreconditionError("cdn definition requires a name")
	}

	cfg := &distributionConfig{
		CallerReference: name,
		Comment:         def.String("comment"),
		Enabled:         true,
	}
	if v, ok := def["enabled"].(bool); ok {
		cfg.Enabled = v
	}

	rawOrigins, _ := def["origins"].([]any)
	for i, raw := range rawOrigins {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		domain, _ := m["domain"].(string)
		if domain == "" {
			return nil, reconcile.NewPreconditionError(fmt.Sprintf("cdn origin %d requires a domain", i))
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = fmt.Sprintf("origin-%d", i)
		}
		cfg.Origins.Items = append(cfg.Origins.Items, origin{ID: id, DomainName: domain})
	}
	cfg.Origins.Quantity = len(cfg.Origins.Items)
	if cfg.Origins.Quantity == 0 {
		return nil, reconcile.NewPreconditionError("cdn definition requires at least one origin")
	}

	rawAliases, _ := def["aliases"].([]any)
	for _, raw := range rawAliases {
		if s, ok := raw.(string); ok {
			cfg.Aliases.Items = append(cfg.Aliases.Items, s)
		}
	}
	cfg.Aliases.Quantity = len(cfg.Aliases.Items)

	return cfg, nil
}
