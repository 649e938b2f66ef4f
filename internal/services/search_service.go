// Package services – SearchService
//
// This file implements key resolution for "does this person or vehicle have
// an active proof photo". The raw value is normalized; with no usable field
// hint the registration key is tried before the identity key, stopping at
// the first key type with any row. Identity fields come from the latest row
// while the photo link comes from the latest row that has one; the two
// lookups are independent.
//
// Search never fails: store errors and unresolvable input both answer
// {exists:false}.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/keys"
	"github.com/tbourn/visitproof/internal/repo"
)

// SubjectView is the public rendering of an entry. It is empty (marshals to
// {}) when no proof is currently valid.
type SubjectView struct {
	Name      string     `json:"name,omitempty"`
	DocNo     string     `json:"docNo,omitempty"`
	RegNo     string     `json:"regNo,omitempty"`
	Contact   string     `json:"contact,omitempty"`
	Remark    string     `json:"remark,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Tower     string     `json:"tower,omitempty"`
	Unit      string     `json:"unit,omitempty"`
	LastVisit *time.Time `json:"lastVisit,omitempty"`
	PhotoLink string     `json:"photoLink,omitempty"`
}

// SearchResult is one of:
//
//	{exists:false}
//	{exists:true, hasProof:false, data:{}}
//	{exists:true, hasProof:true,  data:{..., photoLink}}
type SearchResult struct {
	Exists   bool         `json:"exists"`
	HasProof *bool        `json:"hasProof,omitempty"`
	Data     *SubjectView `json:"data,omitempty"`

	// Degraded is set when a store error was answered as not found. Such a
	// result must not be cached.
	Degraded bool `json:"-"`
}

// NotFound is the {exists:false} result.
func NotFound() SearchResult { return SearchResult{} }

// SearchService resolves lookups. It only reads entries.
type SearchService struct {
	DB *gorm.DB
	// Audit appends a SEARCH row to the visit log per resolved lookup.
	Audit bool
}

// Search resolves value under the field hint.
func (s *SearchService) Search(ctx context.Context, fieldHint, value string) SearchResult {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Search")
	defer span.End()

	key := keys.Normalize(value)
	if key == "" {
		searches.WithLabelValues("miss").Inc()
		return NotFound()
	}
	field := keys.ParseField(fieldHint)
	span.SetAttributes(attribute.String("search.field", field.String()))

	order := []keys.Field{field}
	if field == keys.FieldAny {
		order = []keys.Field{keys.FieldRegistration, keys.FieldIdentity}
	}

	for _, f := range order {
		latest, err := repo.FindLatestByKey(ctx, s.DB, f, key)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return s.storeError(ctx, span, err)
		}

		link, err := repo.FindLatestProofByKey(ctx, s.DB, f, key)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			searches.WithLabelValues("no_proof").Inc()
			s.audit(ctx, f, key, latest.ID, "no_proof")
			no := false
			return SearchResult{Exists: true, HasProof: &no, Data: &SubjectView{}}
		case err != nil:
			return s.storeError(ctx, span, err)
		}

		searches.WithLabelValues("proof").Inc()
		s.audit(ctx, f, key, latest.ID, "proof")
		view := renderSubject(latest)
		view.PhotoLink = link
		yes := true
		return SearchResult{Exists: true, HasProof: &yes, Data: &view}
	}

	searches.WithLabelValues("miss").Inc()
	s.audit(ctx, field, key, "", "miss")
	return NotFound()
}

func (s *SearchService) storeError(ctx context.Context, span trace.Span, err error) SearchResult {
	searches.WithLabelValues("error").Inc()
	span.RecordError(err)
	log.Ctx(ctx).Error().Err(err).Msg("search: store lookup failed")
	return SearchResult{Degraded: true}
}

func (s *SearchService) audit(ctx context.Context, field keys.Field, key, entryID, outcome string) {
	if !s.Audit {
		return
	}
	v := &domain.VisitLog{Kind: domain.VisitSearch, Field: field.String(), NormKey: key, Outcome: outcome}
	if entryID != "" {
		v.EntryID = &entryID
	}
	if err := repo.AppendVisit(ctx, s.DB, v); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("visit log append failed")
	}
}

// renderSubject applies the read-time display rules: OWNER/TENANT remarks
// carry the unit, OTHER reasons carry their qualifier.
func renderSubject(e *domain.Entry) SubjectView {
	created := e.CreatedAt
	return SubjectView{
		Name:      e.Name,
		DocNo:     e.DocNo,
		RegNo:     e.RegNo,
		Contact:   e.Contact,
		Remark:    FormatRemark(e.Remark, e.Unit),
		Reason:    FormatReason(e.Reason, e.ReasonOther),
		Tower:     e.Tower,
		Unit:      e.Unit,
		LastVisit: &created,
	}
}

// FormatRemark suffixes OWNER and TENANT with the unit in parentheses.
func FormatRemark(remark, unit string) string {
	if (remark == "OWNER" || remark == "TENANT") && unit != "" {
		return remark + " (" + unit + ")"
	}
	return remark
}

// FormatReason suffixes OTHER with its free-text qualifier in parentheses.
func FormatReason(reason, other string) string {
	if reason == "OTHER" && other != "" {
		return reason + " (" + other + ")"
	}
	return reason
}
