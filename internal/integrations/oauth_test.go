package integrations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/models"
)

func tokenServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "app-1", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "app-1",
		ClientSecret: "secret",
		RedirectURL:  "https://hub.example.com/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://auth.example.com/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newMockCredentials(t *testing.T, ml *oauth2.Config) (*CredentialStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCredentialStore(database.NewStore(db), "", ml), mock
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestOAuth_StateRoundTrip(t *testing.T) {
	o := NewOAuth(nil, "jwt-secret", oauthConfig(""), oauthConfig(""))

	authURL, err := o.AuthURL(models.PlatformTiendaNube)
	require.NoError(t, err)
	assert.Contains(t, authURL, "https://auth.example.com/authorize")
	state := stateFrom(t, authURL)
	require.NotEmpty(t, state)

	assert.NoError(t, o.verifyState(models.PlatformTiendaNube, state))
	assert.ErrorIs(t, o.verifyState(models.PlatformMercadoLibre, state), ErrInvalidState)

	o.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
	assert.ErrorIs(t, o.verifyState(models.PlatformTiendaNube, state), ErrInvalidState)
}

func TestOAuth_AuthURLUnconfigured(t *testing.T) {
	o := NewOAuth(nil, "jwt-secret", &oauth2.Config{}, nil)
	_, err := o.AuthURL(models.PlatformTiendaNube)
	assert.Error(t, err)
	_, err = o.AuthURL(models.PlatformMercadoLibre)
	assert.Error(t, err)
}

func TestOAuth_Callback(t *testing.T) {
	srv := tokenServer(t, `{"access_token": "abc", "token_type": "bearer", "scope": "write_products", "user_id": 12345}`)
	creds, mock := newMockCredentials(t, nil)
	o := NewOAuth(creds, "jwt-secret", oauthConfig(srv.URL), nil)

	mock.ExpectExec("INSERT INTO integrations").
		WithArgs("default", "tiendanube", "abc", nil, nil, "12345").
		WillReturnResult(sqlmock.NewResult(1, 1))

	state := stateFrom(t, must(o.AuthURL(models.PlatformTiendaNube)))
	st, err := o.Callback(context.Background(), models.PlatformTiendaNube, "the-code", state)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	require.NotNil(t, st.UserID)
	assert.Equal(t, "12345", *st.UserID)
	assert.Nil(t, st.ExpiresAt, "tienda nube tokens do not expire")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOAuth_CallbackErrors(t *testing.T) {
	creds, mock := newMockCredentials(t, nil)
	o := NewOAuth(creds, "jwt-secret", oauthConfig("http://unused"), nil)

	_, err := o.Callback(context.Background(), models.PlatformTiendaNube, "", "")
	assert.ErrorIs(t, err, ErrMissingCode)

	_, err = o.Callback(context.Background(), models.PlatformTiendaNube, "code", "forged")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func must(s string, err error) string {
	if err != nil {
		panic(err)
	}
	return s
}

var integrationColumns = []string{"id", "tenant_id", "platform", "access_token", "refresh_token", "expires_at", "user_id", "created_at", "updated_at"}

func TestCredentialStore_MercadoLibreRefresh(t *testing.T) {
	srv := tokenServer(t, `{"access_token": "new", "refresh_token": "r2", "token_type": "bearer", "expires_in": 21600}`)
	creds, mock := newMockCredentials(t, oauthConfig(srv.URL))

	now := time.Now()
	mock.ExpectQuery("FROM integrations WHERE tenant_id = \\? AND platform = \\?").
		WithArgs("default", "mercadolibre").
		WillReturnRows(sqlmock.NewRows(integrationColumns).
			AddRow(1, "default", "mercadolibre", "old", "r1", now.Add(-time.Hour), "777", now, now))
	mock.ExpectExec("INSERT INTO integrations").
		WithArgs("default", "mercadolibre", "new", "r2", sqlmock.AnyArg(), "777").
		WillReturnResult(sqlmock.NewResult(1, 2))

	token, userID, err := creds.MercadoLibre(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, "777", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore_Status(t *testing.T) {
	creds, mock := newMockCredentials(t, nil)

	now := time.Now()
	mock.ExpectQuery("FROM integrations").
		WithArgs("default", "mercadolibre").
		WillReturnRows(sqlmock.NewRows(integrationColumns))
	mock.ExpectQuery("FROM integrations").
		WithArgs("default", "tiendanube").
		WillReturnRows(sqlmock.NewRows(integrationColumns).
			AddRow(2, "default", "tiendanube", "tok", nil, nil, "12345", now, now))

	status, err := creds.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.False(t, status[0].Connected)
	assert.True(t, status[1].Connected)
	assert.Equal(t, "12345", *status[1].UserID)

	mock.ExpectQuery("FROM integrations").WillReturnRows(sqlmock.NewRows(integrationColumns))
	_, err = creds.TiendaNube(context.Background())
	assert.ErrorIs(t, err, marketplace.ErrNotConnected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
