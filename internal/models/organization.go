package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrgKind is the business model of an organization.
type OrgKind string

const (
	OrgKindCompany   OrgKind = "company"
	OrgKindRecruiter OrgKind = "recruiter"
)

// Valid reports whether the kind is one of the known business models.
func (k OrgKind) Valid() bool {
	return k == OrgKindCompany || k == OrgKindRecruiter
}

// Locale is the organization's default locale.
type Locale string

const (
	LocaleEN   Locale = "en"
	LocalePTBR Locale = "pt-BR"
)

// Valid reports whether the locale is supported.
func (l Locale) Valid() bool {
	return l == LocaleEN || l == LocalePTBR
}

// Organization is the root tenant entity. Every tenant-scoped row in the
// system carries its ID. Organizations are never hard-deleted while
// referencing data exists; they are deactivated instead, which makes them
// unresolvable.
type Organization struct {
	ID        uuid.UUID
	Kind      OrgKind
	Name      string
	Slug      string // unique, case-insensitive, doubles as the subdomain
	Locale    Locale
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeSlug lowercases and trims a candidate slug. Slug comparison is
// case-insensitive everywhere, so normalize once at the edges.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
