// Package token defines the identity token wire shapes exchanged between the
// JWT middleware and the catalog service: the raw/decoded token envelope, its
// validation result, and the variant-specific claims schemas for actors
// (modules), accounts, and operators.
package token

// Token is the envelope carried in a gantry.catalog.tokens.put message. The
// middleware fills decoded_token_json and validation_result in place before
// the message reaches the catalog; raw_token is never modified.
type Token struct {
	RawToken         string            `json:"raw_token" msgpack:"raw_token"`
	DecodedTokenJSON string            `json:"decoded_token_json" msgpack:"decoded_token_json"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty" msgpack:"validation_result,omitempty"`
}

// ValidationResult mirrors the signature/time-window checks a signed JWT
// goes through before the catalog will persist it.
type ValidationResult struct {
	Expired         bool   `json:"expired" msgpack:"expired"`
	ExpiresHuman    string `json:"expires_human" msgpack:"expires_human"`
	NotBeforeHuman  string `json:"not_before_human" msgpack:"not_before_human"`
	CannotUseYet    bool   `json:"cannot_use_yet" msgpack:"cannot_use_yet"`
	SignatureValid  bool   `json:"signature_valid" msgpack:"signature_valid"`
}

// Variant identifies which claims schema a subject's token decodes to.
type Variant int

const (
	VariantOperator Variant = iota
	VariantAccount
	VariantActor
)

func (v Variant) String() string {
	switch v {
	case VariantOperator:
		return "operator"
	case VariantAccount:
		return "account"
	case VariantActor:
		return "actor"
	default:
		return "unknown"
	}
}

// Metadata carries the "wascap" block embedded in every variant's claims,
// used by the catalog to recover the module/account/operator's display name
// and, for actors, its revision number.
type Metadata struct {
	Name         string   `json:"name,omitempty" msgpack:"name,omitempty"`
	Capabilities []string `json:"caps,omitempty" msgpack:"caps,omitempty"`
	Tags         []string `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Version      string   `json:"version,omitempty" msgpack:"version,omitempty"`
	Revision     uint64   `json:"rev,omitempty" msgpack:"rev,omitempty"`
	Provider     bool     `json:"provider,omitempty" msgpack:"provider,omitempty"`
}

// Claims is the common shape shared by all three token variants: a standard
// JWT claim set plus the wascap metadata block. Which fields of Metadata are
// meaningful depends on Variant.
type Claims struct {
	Subject   string    `json:"sub" msgpack:"sub"`
	Issuer    string    `json:"iss" msgpack:"iss"`
	IssuedAt  int64     `json:"iat,omitempty" msgpack:"iat,omitempty"`
	Expires   int64     `json:"exp,omitempty" msgpack:"exp,omitempty"`
	NotBefore int64     `json:"nbf,omitempty" msgpack:"nbf,omitempty"`
	Wascap    *Metadata `json:"wascap,omitempty" msgpack:"wascap,omitempty"`
}

// VariantOf dispatches on the first byte of an NKey-style public key subject:
// 'A' for accounts, 'M' for modules/actors, 'O' for operators. Any other
// prefix is rejected rather than defaulted to a variant, since an
// unrecognized prefix means malformed input, not a new kind of subject. This
// is deliberately a small, total dispatch table rather than the
// decode-as-operator-then-re-decode trick: the subject prefix alone is
// enough to pick the schema, no tentative decode is needed.
func VariantOf(subject string) (Variant, bool) {
	if subject == "" {
		return 0, false
	}
	switch subject[0] {
	case 'A':
		return VariantAccount, true
	case 'M':
		return VariantActor, true
	case 'O':
		return VariantOperator, true
	default:
		return 0, false
	}
}
