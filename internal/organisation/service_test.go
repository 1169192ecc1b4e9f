package organisation

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/charity-directory/internal/model"
	"github.com/sells-group/charity-directory/internal/store"
	"github.com/sells-group/charity-directory/pkg/geocode"
)

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

func (m *mockGeocoder) BatchGeocode(ctx context.Context, addrs []geocode.AddressInput) ([]geocode.Result, error) {
	args := m.Called(ctx, addrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geocode.Result), args.Error(1)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func matched(lat, lng float64) *geocode.Result {
	return &geocode.Result{Latitude: lat, Longitude: lng, Matched: true, Source: "postcodes", Quality: "centroid"}
}

func strPtr(s string) *string { return &s }

func bereavement() *model.Organisation {
	return &model.Organisation{
		Name:         "Harrow Bereavement Counselling",
		Description:  "Bereavement Counselling",
		Address:      "64 pinner road",
		Postcode:     "HA1 3TE",
		DonationInfo: "www.harrow-bereavment.co.uk/donate",
	}
}

func TestCreate_GeocodesAndPrefixesURLs(t *testing.T) {
	st := newTestStore(t)
	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "64 pinner road", Postcode: "HA1 3TE"}).
		Return(matched(51.58, -0.34), nil).Once()

	svc := NewService(st, gc)
	org, err := svc.Create(context.Background(), System, bereavement())
	require.NoError(t, err)

	assert.Equal(t, "http://www.harrow-bereavment.co.uk/donate", org.DonationInfo)
	assert.Equal(t, "", org.Website)
	require.True(t, org.HasCoordinates())

	saved, err := st.GetOrganisation(context.Background(), org.ID, model.QueryActive)
	require.NoError(t, err)
	assert.InDelta(t, 51.58, *saved.Latitude, 0.0001)
	gc.AssertExpectations(t)
}

func TestCreate_NoAddressSkipsGeocoder(t *testing.T) {
	st := newTestStore(t)
	gc := &mockGeocoder{}

	org, err := NewService(st, gc).Create(context.Background(), System, &model.Organisation{Name: "Nowhere"})
	require.NoError(t, err)
	assert.False(t, org.HasCoordinates())
	gc.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
}

func TestCreate_GeocodeFailureStillSaves(t *testing.T) {
	st := newTestStore(t)
	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, mock.Anything).Return(nil, errors.New("service down")).Once()

	org, err := NewService(st, gc).Create(context.Background(), System, bereavement())
	require.NoError(t, err)
	assert.NotZero(t, org.ID)
	assert.False(t, org.HasCoordinates())
}

func TestUpdate_GeocodesOnlyWhenAddressChanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "64 pinner road", Postcode: "HA1 3TE"}).
		Return(matched(51.58, -0.34), nil).Once()
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "64 pinner road", Postcode: "HA1 3RE"}).
		Return(matched(51.59, -0.35), nil).Once()

	svc := NewService(st, gc)
	org, err := svc.Create(ctx, System, bereavement())
	require.NoError(t, err)

	// Unrelated change: coordinates present, no geocode.
	org, err = svc.Update(ctx, System, org.ID, model.Update{Description: strPtr("Support after loss")})
	require.NoError(t, err)
	assert.InDelta(t, 51.58, *org.Latitude, 0.0001)

	org, err = svc.Update(ctx, System, org.ID, model.Update{Postcode: strPtr("HA1 3RE")})
	require.NoError(t, err)
	assert.InDelta(t, 51.59, *org.Latitude, 0.0001)

	gc.AssertExpectations(t)
	gc.AssertNumberOfCalls(t, "Geocode", 2)
}

func TestUpdate_AddressWithoutCoordinatesGeocodesOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	org, err := NewService(st, nil).Create(ctx, System, bereavement())
	require.NoError(t, err)
	require.False(t, org.HasCoordinates())

	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "64 pinner road", Postcode: "HA1 3TE"}).
		Return(matched(51.58, -0.34), nil).Once()

	org, err = NewService(st, gc).Update(ctx, System, org.ID, model.Update{Telephone: strPtr("020 8427 0000")})
	require.NoError(t, err)
	require.True(t, org.HasCoordinates())
	assert.InDelta(t, 51.58, *org.Latitude, 0.0001)

	gc.AssertExpectations(t)
	gc.AssertNumberOfCalls(t, "Geocode", 1)
}

func TestUpdate_UnmatchedAddressChangeClearsCoordinates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "64 pinner road", Postcode: "HA1 3TE"}).
		Return(matched(51.58, -0.34), nil).Once()
	gc.On("Geocode", mock.Anything, geocode.AddressInput{Address: "Unknown Lane", Postcode: "HA1 3TE"}).
		Return(&geocode.Result{}, nil).Once()

	svc := NewService(st, gc)
	org, err := svc.Create(ctx, System, bereavement())
	require.NoError(t, err)

	org, err = svc.Update(ctx, System, org.ID, model.Update{Address: strPtr("Unknown Lane")})
	require.NoError(t, err)
	assert.False(t, org.HasCoordinates())

	saved, err := st.GetOrganisation(ctx, org.ID, model.QueryActive)
	require.NoError(t, err)
	assert.False(t, saved.HasCoordinates())
}

func TestUpdate_ClearingAddressClearsCoordinates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	gc := &mockGeocoder{}
	gc.On("Geocode", mock.Anything, mock.Anything).Return(matched(51.58, -0.34), nil).Once()

	svc := NewService(st, gc)
	org, err := svc.Create(ctx, System, bereavement())
	require.NoError(t, err)

	org, err = svc.Update(ctx, System, org.ID, model.Update{Address: strPtr(""), Postcode: strPtr("")})
	require.NoError(t, err)
	assert.False(t, org.HasCoordinates())
	gc.AssertNumberOfCalls(t, "Geocode", 1)
}

func TestUpdate_EmailChangeUninvitesPendingUsers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st, nil)

	org, err := svc.Create(ctx, System, &model.Organisation{Name: "Age UK Elderly", Email: "old@age-uk.org"})
	require.NoError(t, err)

	sent := time.Now().UTC()
	pending := &model.User{Email: "pending@example.org", OrganisationID: &org.ID, InvitationSentAt: &sent}
	require.NoError(t, st.CreateUser(ctx, pending))

	// A non-email change keeps the invitation.
	_, err = svc.Update(ctx, System, org.ID, model.Update{Telephone: strPtr("020 1234 5678")})
	require.NoError(t, err)
	u, err := st.FindUserByEmail(ctx, pending.Email)
	require.NoError(t, err)
	require.NotNil(t, u.OrganisationID)

	_, err = svc.Update(ctx, System, org.ID, model.Update{Email: strPtr("new@age-uk.org")})
	require.NoError(t, err)
	u, err = st.FindUserByEmail(ctx, pending.Email)
	require.NoError(t, err)
	assert.Nil(t, u.OrganisationID)
}

func TestUpdate_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := NewService(st, nil).Update(context.Background(), System, 404, model.Update{})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdateWithSuperadmin(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email changes nothing", func(t *testing.T) {
		st := newTestStore(t)
		svc := NewService(st, nil)
		org, err := svc.Create(ctx, System, bereavement())
		require.NoError(t, err)

		_, err = svc.UpdateWithSuperadmin(ctx, System, org.ID, model.Update{Name: strPtr("New name")}, "nonexistentuser@example.com")
		var unknown *UnknownSuperadminError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "The user email you entered,'nonexistentuser@example.com', does not exist in the system", err.Error())

		saved, err := st.GetOrganisation(ctx, org.ID, model.QueryActive)
		require.NoError(t, err)
		assert.Equal(t, "Harrow Bereavement Counselling", saved.Name)
	})

	t.Run("blank email is a plain update", func(t *testing.T) {
		st := newTestStore(t)
		svc := NewService(st, nil)
		org, err := svc.Create(ctx, System, bereavement())
		require.NoError(t, err)

		updated, err := svc.UpdateWithSuperadmin(ctx, System, org.ID, model.Update{Name: strPtr("New name")}, "  ")
		require.NoError(t, err)
		assert.Equal(t, "New name", updated.Name)
		assert.False(t, updated.HasOwner)
	})

	t.Run("known email assigns the user", func(t *testing.T) {
		st := newTestStore(t)
		svc := NewService(st, nil)
		org, err := svc.Create(ctx, System, bereavement())
		require.NoError(t, err)
		usr := &model.User{Email: "user@example.org"}
		require.NoError(t, st.CreateUser(ctx, usr))

		updated, err := svc.UpdateWithSuperadmin(ctx, System, org.ID, model.Update{Name: strPtr("New name")}, usr.Email)
		require.NoError(t, err)
		assert.Equal(t, "New name", updated.Name)
		assert.True(t, updated.HasOwner)

		u, err := st.FindUserByEmail(ctx, usr.Email)
		require.NoError(t, err)
		require.NotNil(t, u.OrganisationID)
		assert.Equal(t, org.ID, *u.OrganisationID)

		saved, err := st.GetOrganisation(ctx, org.ID, model.QueryActive)
		require.NoError(t, err)
		assert.True(t, saved.HasOwner)
	})
}

func TestDestroyAndRestore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	svc := NewService(st, nil)

	org, err := svc.Create(ctx, System, bereavement())
	require.NoError(t, err)

	require.NoError(t, svc.Destroy(ctx, System, org.ID))
	_, err = st.GetOrganisation(ctx, org.ID, model.QueryActive)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	hidden, err := st.GetOrganisation(ctx, org.ID, model.QueryAll)
	require.NoError(t, err)
	assert.True(t, hidden.Deleted())

	assert.Error(t, svc.Destroy(ctx, System, org.ID))

	require.NoError(t, svc.Restore(ctx, System, org.ID))
	back, err := st.GetOrganisation(ctx, org.ID, model.QueryActive)
	require.NoError(t, err)
	assert.Equal(t, "Harrow Bereavement Counselling", back.Name)
}

func TestGeocodeMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Created without a geocoder, so nothing has coordinates yet.
	plain := NewService(st, nil)
	a, err := plain.Create(ctx, System, &model.Organisation{Name: "A", Postcode: "HA1 1BA"})
	require.NoError(t, err)
	b, err := plain.Create(ctx, System, &model.Organisation{Name: "B", Postcode: "ZZ9 9ZZ"})
	require.NoError(t, err)
	_, err = plain.Create(ctx, System, &model.Organisation{Name: "C"})
	require.NoError(t, err)

	gc := &mockGeocoder{}
	gc.On("BatchGeocode", mock.Anything, []geocode.AddressInput{
		{ID: strconv.FormatInt(a.ID, 10), Postcode: "HA1 1BA"},
		{ID: strconv.FormatInt(b.ID, 10), Postcode: "ZZ9 9ZZ"},
	}).Return([]geocode.Result{*matched(51.58, -0.34), {}}, nil).Once()

	summary, err := NewService(st, gc).GeocodeMissing(ctx, System, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, GeocodeSummary{Attempted: 2, Matched: 1, Failed: 1}, summary)

	gotA, err := st.GetOrganisation(ctx, a.ID, model.QueryActive)
	require.NoError(t, err)
	assert.True(t, gotA.HasCoordinates())
	gotB, err := st.GetOrganisation(ctx, b.ID, model.QueryActive)
	require.NoError(t, err)
	assert.False(t, gotB.HasCoordinates())
	gc.AssertExpectations(t)
	gc.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
}

func TestGeocodeMissing_Chunks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	plain := NewService(st, nil)
	for _, pc := range []string{"HA1 1AA", "HA1 1AB", "HA1 1AD"} {
		_, err := plain.Create(ctx, System, &model.Organisation{Name: "Org " + pc, Postcode: pc})
		require.NoError(t, err)
	}

	gc := &mockGeocoder{}
	gc.On("BatchGeocode", mock.Anything, mock.MatchedBy(func(in []geocode.AddressInput) bool { return len(in) == 2 })).
		Return([]geocode.Result{*matched(51.5, -0.3), *matched(51.6, -0.3)}, nil).Once()
	gc.On("BatchGeocode", mock.Anything, mock.MatchedBy(func(in []geocode.AddressInput) bool { return len(in) == 1 })).
		Return([]geocode.Result{*matched(51.7, -0.3)}, nil).Once()

	summary, err := NewService(st, gc).GeocodeMissing(ctx, System, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, GeocodeSummary{Attempted: 3, Matched: 3}, summary)
	gc.AssertExpectations(t)

	left, err := st.ListUngeocoded(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestGeocodeMissing_BatchError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := NewService(st, nil).Create(ctx, System, &model.Organisation{Name: "A", Postcode: "HA1 1BA"})
	require.NoError(t, err)

	gc := &mockGeocoder{}
	gc.On("BatchGeocode", mock.Anything, mock.Anything).Return(nil, context.Canceled).Once()

	_, err = NewService(st, gc).GeocodeMissing(ctx, System, 0, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGeocodeMissing_Disabled(t *testing.T) {
	st := newTestStore(t)
	_, err := NewService(st, nil).GeocodeMissing(context.Background(), System, 10, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
