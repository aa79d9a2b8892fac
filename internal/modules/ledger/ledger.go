// Package ledger provides the per-run exposure ledger: a mutable,
// per-institution running account of committed exposure with headroom
// queries and atomic reservation.
//
// A Ledger is scoped to a single optimization run and never persisted.
// It is instantiated twice with different lifecycles: once as a static
// pre-pass headroom source for the dynamic allocator, once as a
// cumulative tracker while the single-pass strategy emits
// recommendations.
package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/domain"
)

// Record is a snapshot of one institution's ledger entry with its
// derived fields.
type Record struct {
	Institution      domain.InstitutionID
	FirmNames        []string
	StartingExposure domain.Money
	Reserved         domain.Money
	TotalExposure    domain.Money
	Ceiling          domain.Money
	Headroom         domain.Money
	AtLimit          bool
	OverLimit        bool
}

type entry struct {
	institution domain.InstitutionID
	firmNames   []string
	starting    domain.Money
	reserved    domain.Money
}

type reservation struct {
	frn    string
	amount domain.Money
}

// Ledger tracks committed exposure per institution for one run.
// Not safe for concurrent use: the allocation loop is strictly
// sequential because every decision changes state the next decision
// depends on.
type Ledger struct {
	entries        map[string]*entry
	ceilings       map[string]domain.Money
	reservations   map[string]reservation
	defaultCeiling domain.Money
	log            zerolog.Logger
}

// New creates an empty ledger. defaultCeiling is the effective ceiling
// assumed for institutions with no explicit ceiling set - the optimistic
// full standard ceiling for first-seen institutions.
func New(defaultCeiling domain.Money, log zerolog.Logger) *Ledger {
	return &Ledger{
		entries:        make(map[string]*entry),
		ceilings:       make(map[string]domain.Money),
		reservations:   make(map[string]reservation),
		defaultCeiling: defaultCeiling,
		log:            log.With().Str("component", "exposure_ledger").Logger(),
	}
}

// SetCeiling sets an institution's effective ceiling (joint-multiplied
// or personally overridden). Ignored for unidentified institutions.
func (l *Ledger) SetCeiling(id domain.InstitutionID, ceiling domain.Money) {
	frn, ok := id.FRN()
	if !ok {
		return
	}
	l.ceilings[frn] = ceiling
}

// RecordExposure adds starting exposure for an institution, creating its
// entry lazily on first touch. Exposure against unidentified
// institutions cannot be tracked and is dropped.
func (l *Ledger) RecordExposure(id domain.InstitutionID, firmName string, amount domain.Money) {
	frn, ok := id.FRN()
	if !ok {
		return
	}

	e := l.entry(frn, id)
	e.starting = e.starting.Add(amount)
	e.addFirmName(firmName)
}

// AvailableHeadroom returns max(0, ceiling - (starting + reserved)).
// Unknown institutions report the full default ceiling; unidentified
// institutions always report zero - they can never receive a tracked
// allocation.
func (l *Ledger) AvailableHeadroom(id domain.InstitutionID) domain.Money {
	frn, ok := id.FRN()
	if !ok {
		return domain.Money{}
	}

	ceiling := l.ceiling(frn)
	e, exists := l.entries[frn]
	if !exists {
		return ceiling
	}

	return ceiling.SubFloor(e.starting.Add(e.reserved))
}

// WouldViolate reports whether reserving amount against the institution
// would push it over its effective ceiling.
func (l *Ledger) WouldViolate(id domain.InstitutionID, amount domain.Money) bool {
	if _, ok := id.FRN(); !ok {
		return true
	}
	return amount.GreaterThan(l.AvailableHeadroom(id))
}

// MaxSafeTransfer returns min(desired, headroom): the largest part of a
// desired transfer that fits without breaching the ceiling.
func (l *Ledger) MaxSafeTransfer(id domain.InstitutionID, desired domain.Money) domain.Money {
	return desired.Min(l.AvailableHeadroom(id))
}

// Reserve atomically commits amount against the institution and returns
// a reservation ID for later release. Fails if the reservation would
// violate the ceiling; callers that intend to shrink rather than abort
// must check WouldViolate or use MaxSafeTransfer first.
func (l *Ledger) Reserve(id domain.InstitutionID, firmName string, amount domain.Money) (string, error) {
	frn, ok := id.FRN()
	if !ok {
		return "", fmt.Errorf("cannot reserve against unidentified institution")
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("reservation amount must be positive, got %s", amount)
	}
	if l.WouldViolate(id, amount) {
		return "", fmt.Errorf("reserving %s at institution %s would breach ceiling %s (headroom %s)",
			amount, frn, l.ceiling(frn), l.AvailableHeadroom(id))
	}

	e := l.entry(frn, id)
	e.reserved = e.reserved.Add(amount)
	e.addFirmName(firmName)

	reservationID := uuid.New().String()
	l.reservations[reservationID] = reservation{frn: frn, amount: amount}

	l.log.Debug().
		Str("institution", frn).
		Str("amount", amount.String()).
		Str("headroom", l.AvailableHeadroom(id).String()).
		Msg("Reserved exposure")

	return reservationID, nil
}

// Release reverses a reservation. Used by the cumulative-tracking
// variant to support what-if re-evaluation.
func (l *Ledger) Release(reservationID string) error {
	res, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("unknown reservation %s", reservationID)
	}

	e := l.entries[res.frn]
	e.reserved = e.reserved.SubFloor(res.amount)
	delete(l.reservations, reservationID)

	return nil
}

// Records returns a snapshot of all touched institutions with derived
// fields, sorted by total exposure descending.
func (l *Ledger) Records() []Record {
	records := make([]Record, 0, len(l.entries))
	for frn, e := range l.entries {
		ceiling := l.ceiling(frn)
		total := e.starting.Add(e.reserved)
		firms := make([]string, len(e.firmNames))
		copy(firms, e.firmNames)

		records = append(records, Record{
			Institution:      e.institution,
			FirmNames:        firms,
			StartingExposure: e.starting,
			Reserved:         e.reserved,
			TotalExposure:    total,
			Ceiling:          ceiling,
			Headroom:         ceiling.SubFloor(total),
			AtLimit:          total.GreaterOrEqual(ceiling),
			OverLimit:        total.GreaterThan(ceiling),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].TotalExposure.Equal(records[j].TotalExposure) {
			return records[i].TotalExposure.GreaterThan(records[j].TotalExposure)
		}
		return records[i].Institution.String() < records[j].Institution.String()
	})

	return records
}

func (l *Ledger) ceiling(frn string) domain.Money {
	if ceiling, ok := l.ceilings[frn]; ok {
		return ceiling
	}
	return l.defaultCeiling
}

func (l *Ledger) entry(frn string, id domain.InstitutionID) *entry {
	e, ok := l.entries[frn]
	if !ok {
		e = &entry{institution: id}
		l.entries[frn] = e
	}
	return e
}

func (e *entry) addFirmName(name string) {
	if name == "" {
		return
	}
	for _, existing := range e.firmNames {
		if existing == name {
			return
		}
	}
	e.firmNames = append(e.firmNames, name)
}

// BuildOpening seeds a ledger with the opening exposure of the current
// portfolio: all active accounts plus, when includePending is set, every
// pending deposit that still counts toward exposure.
func BuildOpening(l *Ledger, accounts []domain.Account, pending []domain.PendingDeposit, includePending bool) {
	for _, account := range accounts {
		if !account.Active {
			continue
		}
		l.RecordExposure(account.Institution, account.Name, account.Balance)
	}

	if !includePending {
		return
	}

	for _, deposit := range pending {
		if !deposit.CountsTowardExposure() {
			continue
		}
		l.RecordExposure(deposit.Institution, deposit.Name, deposit.Balance)
	}
}
