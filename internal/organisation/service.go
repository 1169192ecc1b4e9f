package organisation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/store"
	"github.com/sells-group/charity-directory/pkg/geocode"
)

// Actor is the user on whose behalf a mutation runs. The zero Actor is the
// system (imports, maintenance commands).
type Actor struct {
	UserID int64
	Email  string
}

// System is the actor used by batch commands.
var System = Actor{Email: "system"}

func (a Actor) field() zap.Field {
	if a.UserID == 0 {
		return zap.String("actor", a.Email)
	}
	return zap.Int64("actor_id", a.UserID)
}

// Service saves organisations through a store, applying URL normalisation
// and the geocoding policy on every save.
type Service struct {
	store    store.Store
	geocoder geocode.Client
}

// NewService creates a Service. A nil geocoder disables geocoding; saves still
// clear stale coordinates when the address changes.
func NewService(st store.Store, gc geocode.Client) *Service {
	return &Service{store: st, geocoder: gc}
}

// WithStore returns a copy of the service bound to st, typically a
// transaction-scoped store.
func (s *Service) WithStore(st store.Store) *Service {
	return &Service{store: st, geocoder: s.geocoder}
}

// Store returns the store the service writes to.
func (s *Service) Store() store.Store { return s.store }

// Create normalises, geocodes and inserts org.
func (s *Service) Create(ctx context.Context, actor Actor, org *model.Organisation) (*model.Organisation, error) {
	log := zap.L().With(actor.field(), zap.String("organisation", org.Name))

	normalizeURLs(org)
	s.applyGeocodePolicy(ctx, log, nil, org)

	if err := s.store.CreateOrganisation(ctx, org); err != nil {
		return nil, eris.Wrap(err, "organisation: create")
	}
	log.Debug("organisation: created", zap.Int64("id", org.ID))
	return org, nil
}

// Update applies upd to the active organisation id. An email change drops
// users whose invitation to the organisation was never accepted.
func (s *Service) Update(ctx context.Context, actor Actor, id int64, upd model.Update) (*model.Organisation, error) {
	log := zap.L().With(actor.field(), zap.Int64("organisation_id", id))

	prev, err := s.store.GetOrganisation(ctx, id, model.QueryActive)
	if err != nil {
		return nil, eris.Wrap(err, "organisation: load for update")
	}

	next := prev.Clone()
	upd.Apply(next)
	normalizeURLs(next)
	s.applyGeocodePolicy(ctx, log, prev, next)

	emailChanged := !strings.EqualFold(strings.TrimSpace(prev.Email), strings.TrimSpace(next.Email))

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateOrganisation(ctx, next); err != nil {
			return err
		}
		if !emailChanged {
			return nil
		}
		n, err := tx.UninviteUsers(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("organisation: email changed, pending invitations withdrawn", zap.Int64("users", n))
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "organisation: update")
	}
	return next, nil
}

// UpdateWithSuperadmin updates the organisation and, when email is not blank,
// makes the user with that email its administrator. An unknown email returns
// *UnknownSuperadminError and changes nothing.
func (s *Service) UpdateWithSuperadmin(ctx context.Context, actor Actor, id int64, upd model.Update, email string) (*model.Organisation, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return s.Update(ctx, actor, id, upd)
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrap(err, "organisation: find superadmin")
	}
	if user == nil {
		return nil, &UnknownSuperadminError{Email: email}
	}

	var updated *model.Organisation
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if updated, err = s.WithStore(tx).Update(ctx, actor, id, upd); err != nil {
			return err
		}
		return tx.AssignUser(ctx, user.ID, id)
	})
	if err != nil {
		return nil, eris.Wrap(err, "organisation: update with superadmin")
	}
	updated.HasOwner = true
	zap.L().Info("organisation: superadmin assigned",
		actor.field(), zap.Int64("organisation_id", id), zap.Int64("user_id", user.ID))
	return updated, nil
}

// Destroy soft-deletes an organisation.
func (s *Service) Destroy(ctx context.Context, actor Actor, id int64) error {
	if err := s.store.SoftDeleteOrganisation(ctx, id); err != nil {
		return eris.Wrap(err, "organisation: destroy")
	}
	zap.L().Info("organisation: soft deleted", actor.field(), zap.Int64("organisation_id", id))
	return nil
}

// Restore brings back a soft-deleted organisation.
func (s *Service) Restore(ctx context.Context, actor Actor, id int64) error {
	if err := s.store.RestoreOrganisation(ctx, id); err != nil {
		return eris.Wrap(err, "organisation: restore")
	}
	zap.L().Info("organisation: restored", actor.field(), zap.Int64("organisation_id", id))
	return nil
}

// GeocodeSummary counts the outcome of a GeocodeMissing run.
type GeocodeSummary struct {
	Attempted int
	Matched   int
	Failed    int
}

// GeocodeMissing geocodes up to limit active organisations that have an
// address but no coordinates. Candidates go to the geocoder's BatchGeocode in
// chunks of concurrency; matches are saved after each chunk. Geocoder
// failures are counted, not returned.
func (s *Service) GeocodeMissing(ctx context.Context, actor Actor, limit, concurrency int) (GeocodeSummary, error) {
	var summary GeocodeSummary
	if s.geocoder == nil {
		return summary, eris.New("organisation: geocoding is disabled")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	orgs, err := s.store.ListUngeocoded(ctx, limit)
	if err != nil {
		return summary, eris.Wrap(err, "organisation: list ungeocoded")
	}
	log := zap.L().With(actor.field(), zap.String("batch", string(model.RunKindGeocode)))
	log.Info("organisation: geocode backfill starting", zap.Int("candidates", len(orgs)))

	for start := 0; start < len(orgs) && err == nil; start += concurrency {
		chunk := orgs[start:min(start+concurrency, len(orgs))]
		err = s.geocodeChunk(ctx, log, chunk, &summary)
	}

	log.Info("organisation: geocode backfill finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("matched", summary.Matched),
		zap.Int("failed", summary.Failed),
	)
	return summary, err
}

func (s *Service) geocodeChunk(ctx context.Context, log *zap.Logger, chunk []model.Organisation, summary *GeocodeSummary) error {
	addrs := make([]geocode.AddressInput, len(chunk))
	for i := range chunk {
		addrs[i] = geocode.AddressInput{
			ID:       strconv.FormatInt(chunk[i].ID, 10),
			Address:  chunk[i].Address,
			Postcode: chunk[i].Postcode,
		}
	}

	results, err := s.geocoder.BatchGeocode(ctx, addrs)
	if err != nil {
		return eris.Wrap(err, "organisation: batch geocode")
	}
	if len(results) != len(chunk) {
		return eris.Errorf("organisation: batch geocode returned %d results for %d addresses", len(results), len(chunk))
	}

	for i := range chunk {
		o := &chunk[i]
		summary.Attempted++
		if !results[i].Matched {
			summary.Failed++
			log.Debug("organisation: no geocode match", zap.Int64("organisation_id", o.ID))
			continue
		}
		o.SetCoordinates(results[i].Latitude, results[i].Longitude)
		if err := s.store.UpdateOrganisation(ctx, o); err != nil {
			return eris.Wrapf(err, "organisation: save coordinates for %d", o.ID)
		}
		summary.Matched++
	}
	return nil
}

// applyGeocodePolicy updates next's coordinates in place. It never fails the
// save.
func (s *Service) applyGeocodePolicy(ctx context.Context, log *zap.Logger, prev, next *model.Organisation) {
	state := stateFor(prev, next)
	if !state.HasAddress {
		next.ClearCoordinates()
		return
	}
	if !ShouldGeocode(state) {
		return
	}
	if s.geocoder == nil {
		if state.AddressChanged {
			next.ClearCoordinates()
		}
		return
	}

	start := time.Now()
	res, err := s.geocoder.Geocode(ctx, geocode.AddressInput{Address: next.Address, Postcode: next.Postcode})
	switch {
	case err != nil:
		log.Warn("organisation: geocode failed, saving without coordinates", zap.Error(err))
	case res == nil || !res.Matched:
		log.Debug("organisation: address not matched", zap.String("postcode", next.Postcode))
	default:
		next.SetCoordinates(res.Latitude, res.Longitude)
		log.Debug("organisation: geocoded",
			zap.String("source", res.Source),
			zap.String("quality", res.Quality),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	if state.AddressChanged {
		next.ClearCoordinates()
	}
}
