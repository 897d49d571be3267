package token

// QueryType selects which variant set a CatalogQuery enumerates.
type QueryType int

const (
	QueryActor QueryType = iota
	QueryAccount
	QueryOperator
)

// CatalogQuery requests every subject registered under a given variant,
// optionally filtered by issuer.
type CatalogQuery struct {
	QueryType QueryType `json:"query_type" msgpack:"query_type"`
	Issuer    string    `json:"issuer,omitempty" msgpack:"issuer,omitempty"`
}

// ActorSummary is the catalog-visible metadata for a registered module.
type ActorSummary struct {
	PublicKey    string   `json:"public_key" msgpack:"public_key"`
	Capabilities []string `json:"capabilities,omitempty" msgpack:"capabilities,omitempty"`
	Provider     bool     `json:"provider" msgpack:"provider"`
	Tags         []string `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Version      string   `json:"version,omitempty" msgpack:"version,omitempty"`
	Revision     uint64   `json:"revision" msgpack:"revision"`
	Account      string   `json:"account" msgpack:"account"`
	Name         string   `json:"name" msgpack:"name"`
}

// CatalogQueryResult describes a single catalog entry.
type CatalogQueryResult struct {
	Subject string        `json:"subject" msgpack:"subject"`
	Issuer  string         `json:"issuer" msgpack:"issuer"`
	Name    string         `json:"name" msgpack:"name"`
	Actor   *ActorSummary  `json:"actor,omitempty" msgpack:"actor,omitempty"`
}

// CatalogQueryResults is the wire response to a CatalogQuery.
type CatalogQueryResults struct {
	Results []CatalogQueryResult `json:"results" msgpack:"results"`
}

// Subjects used to route catalog messages over the broker.
const (
	SubjectCatalogPutToken    = "gantry.catalog.tokens.put"
	SubjectCatalogDeleteToken = "gantry.catalog.tokens.delete"
	SubjectCatalogQuery       = "gantry.catalog.tokens.query"
)
