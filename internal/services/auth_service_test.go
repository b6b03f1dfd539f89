package services

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func setArgon2TestParams() {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestPasswordHashing(t *testing.T) {
	setArgon2TestParams()

	t.Run("hash verifies against the original password", func(t *testing.T) {
		hashed, err := hashPassword("correct-horse-battery")
		assert.NoError(t, err)
		assert.True(t, verifyPassword("correct-horse-battery", hashed))
	})

	t.Run("wrong password fails", func(t *testing.T) {
		hashed, err := hashPassword("correct-horse-battery")
		assert.NoError(t, err)
		assert.False(t, verifyPassword("wrong-password", hashed))
	})

	t.Run("same password hashes differently per salt", func(t *testing.T) {
		h1, _ := hashPassword("password123")
		h2, _ := hashPassword("password123")
		assert.NotEqual(t, h1, h2)
	})

	t.Run("garbage hash never verifies", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "not-a-hash"))
		assert.False(t, verifyPassword("password123", "a$b$c"))
	})
}

func TestGenerateJWT(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)

	signed, err := generateJWT(42, "admin")
	assert.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, float64(42), claims["user_id"])
	assert.Equal(t, "admin", claims["role"])
}

func TestAuthService_Login(t *testing.T) {
	setArgon2TestParams()
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)

	t.Run("valid credentials", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)
		hashed, _ := hashPassword("password123")

		dbMock.ExpectQuery("SELECT id, email, username, role, balance, password FROM users WHERE email = \\$1").
			WithArgs("player@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "role", "balance", "password"}).
				AddRow(42, "player@example.com", "steve42", "user", 1000, hashed))

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(`{"email":"player@example.com","password":"password123"}`))
		rec := httptest.NewRecorder()

		service.Login(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"token"`)
		assert.Contains(t, rec.Body.String(), "steve42")
	})

	t.Run("wrong password", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)
		hashed, _ := hashPassword("password123")

		dbMock.ExpectQuery("SELECT id, email, username, role, balance, password FROM users WHERE email = \\$1").
			WithArgs("player@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "username", "role", "balance", "password"}).
				AddRow(42, "player@example.com", "steve42", "user", 1000, hashed))

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(`{"email":"player@example.com","password":"oops"}`))
		rec := httptest.NewRecorder()

		service.Login(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		dbMock.ExpectQuery("SELECT id, email, username, role, balance, password FROM users WHERE email = \\$1").
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(`{"email":"ghost@example.com","password":"password123"}`))
		rec := httptest.NewRecorder()

		service.Login(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthService_LinkGameIdentity(t *testing.T) {
	t.Run("allowed namespace links", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		dbMock.ExpectExec("UPDATE users SET game_identity = \\$1").
			WithArgs("mc:069a79f4", 42).
			WillReturnResult(sqlmock.NewResult(1, 1))

		req := authedRequest(http.MethodPost, "/auth/link-game", `{"identity":"mc:069a79f4"}`, 42)
		rec := httptest.NewRecorder()

		service.LinkGameIdentity(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("disallowed namespace rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		req := authedRequest(http.MethodPost, "/auth/link-game", `{"identity":"xbox:gamertag"}`, 42)
		rec := httptest.NewRecorder()

		service.LinkGameIdentity(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unauthenticated request rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		req := httptest.NewRequest(http.MethodPost, "/auth/link-game", jsonBody(`{"identity":"mc:069a79f4"}`))
		rec := httptest.NewRecorder()

		service.LinkGameIdentity(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
