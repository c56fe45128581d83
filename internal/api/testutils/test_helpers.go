package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cpvl/dues-server/internal/api"
	"github.com/cpvl/dues-server/internal/config"
	"github.com/cpvl/dues-server/internal/events"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/repository"
	"github.com/cpvl/dues-server/internal/service"
	"github.com/cpvl/dues-server/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	TestPassword   = "testpassword"
	TestPilotEmail = "testpilot@example.com"
	TestAdminEmail = "treasurer@example.com"
	TestPixKey     = "pix@example.com"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.MemoryRepository
	Service    service.Service
	Publisher  *events.RecordingPublisher
	JWTSecret  []byte

	Pilot    *models.User
	PilotJWT string
	Admin    *models.User
	AdminJWT string
}

// SetupTestContext creates a new test context with initialized dependencies.
// The pilot is affiliated so its ledger view is available.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret-key"
	cfg.Auth.AdminEmails = []string{TestAdminEmail}
	cfg.Pix.Key = TestPixKey
	require.NoError(t, cfg.Validate())

	pricing, err := cfg.Pricing()
	require.NoError(t, err)
	loc, err := cfg.Location()
	require.NoError(t, err)

	repo := repository.NewMemoryRepository()
	publisher := &events.RecordingPublisher{}

	svc := service.NewDefaultService(repo, service.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL,
		IsAdminEmail: cfg.IsAdminEmail,
		Pricing:      pricing,
		StartYear:    cfg.Dues.StartYear,
		Location:     loc,
		Merchant:     cfg.Merchant(),
		QRSize:       cfg.Pix.QRSize,
		Publisher:    publisher,
		Logger:       utils.NewNopLogger(),
	})

	handler := api.NewHandler(svc, utils.NewNopLogger(), loc)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(utils.NewNopLogger()))
	router.Use(api.JWTSecretMiddleware(cfg.Auth.JWTSecret))
	handler.SetupRoutes(router)

	pilot, pilotJWT := createTestUser(t, repo, cfg.Auth.JWTSecret, TestPilotEmail, models.RolePilot, ledger.PilotAffiliated)
	admin, adminJWT := createTestUser(t, repo, cfg.Auth.JWTSecret, TestAdminEmail, models.RoleAdmin, ledger.PilotAffiliated)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Publisher:  publisher,
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		Pilot:      pilot,
		PilotJWT:   pilotJWT,
		Admin:      admin,
		AdminJWT:   adminJWT,
	}
}

// CleanupTestContext releases test resources
func CleanupTestContext(t *TestContext) {
	if t.Publisher != nil {
		_ = t.Publisher.Close()
	}
}

// CreatePilot registers another pilot and returns it with a token
func (tc *TestContext) CreatePilot(t *testing.T, email string, status ledger.PilotStatus) (*models.User, string) {
	return createTestUser(t, tc.Repository, string(tc.JWTSecret), email, models.RolePilot, status)
}

// Helper functions
func createTestUser(
	t *testing.T,
	repo repository.Repository,
	jwtSecret, email, role string,
	status ledger.PilotStatus,
) (*models.User, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    email,
		Name:     "Test " + role,
		Password: string(hashedPassword),
		Role:     role,
		Status:   status,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user), "Failed to create test user")

	// Generate JWT token with the provided secret key
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     user.ID,
		"pilotId": user.PilotID,
		"role":    user.Role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	})

	tokenString, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err, "Failed to generate JWT token")

	return user, tokenString
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeJSON unmarshals a recorded response body
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}
