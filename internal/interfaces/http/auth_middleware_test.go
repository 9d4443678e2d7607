package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-dispatcher/internal/application/dto"
	apphttp "github.com/jhoicas/verifactu-dispatcher/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/verifactu-dispatcher/pkg/jwt"
)

const (
	testJWTSecret = "test-secret-key-for-unit-tests"
	testUserID    = "00000000-0000-0000-0000-000000000001"
	testCompanyID = "00000000-0000-0000-0000-000000000002"
	testIssuer    = "verifactu-dispatcher-test"
	testTTL       = time.Hour
)

// tokenForRole cabecera Authorization con un token válido del emisor de pruebas.
func tokenForRole(t *testing.T, role string) string {
	t.Helper()
	return bearer(t, pkgjwt.Identity{UserID: testUserID, CompanyID: testCompanyID, Role: role})
}

func bearer(t *testing.T, id pkgjwt.Identity) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, id, testIssuer, testTTL)
	require.NoError(t, err)
	return "Bearer " + tok
}

// signClaims firma a mano para construir tokens que Generate no emitiría.
func signClaims(t *testing.T, method gojwt.SigningMethod, key interface{}, claims pkgjwt.Claims) string {
	t.Helper()
	tok, err := gojwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return "Bearer " + tok
}

func claimsFor(role, issuer string, exp time.Time) pkgjwt.Claims {
	return pkgjwt.Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testUserID,
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
		UserID:    testUserID,
		CompanyID: testCompanyID,
		Role:      role,
	}
}

// accessApp reproduce los tres niveles de acceso del router: lectura, escritura y administración.
func accessApp(issuer string) *fiber.App {
	app := fiber.New()
	ok := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":    apphttp.GetUserID(c),
			"company_id": apphttp.GetCompanyID(c),
			"role":       apphttp.GetRole(c),
		})
	}
	g := app.Group("/vf", apphttp.AuthMiddleware(testJWTSecret, issuer), apphttp.RequireRole())
	g.Get("/lectura", ok)
	g.Post("/escritura", apphttp.RequireRole(apphttp.RoleAdmin, apphttp.RoleOperador), ok)
	g.Post("/admin", apphttp.RequireRole(apphttp.RoleAdmin), ok)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, auth string) (int, dto.ErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var e dto.ErrorResponse
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	}
	return resp.StatusCode, e
}

// ──────────────────────────────────────────────────────────────────────────────
// Matriz de roles
// ──────────────────────────────────────────────────────────────────────────────

func TestRequireRole_MatrizDeAcceso(t *testing.T) {
	app := accessApp(testIssuer)
	permitido := map[string]map[string]bool{
		apphttp.RoleAdmin:    {"/vf/lectura": true, "/vf/escritura": true, "/vf/admin": true},
		apphttp.RoleOperador: {"/vf/lectura": true, "/vf/escritura": true, "/vf/admin": false},
		apphttp.RoleConsulta: {"/vf/lectura": true, "/vf/escritura": false, "/vf/admin": false},
		"auditor":            {"/vf/lectura": true, "/vf/escritura": false, "/vf/admin": false},
	}
	for role, rutas := range permitido {
		for path, ok := range rutas {
			method := http.MethodPost
			if path == "/vf/lectura" {
				method = http.MethodGet
			}
			status, e := call(t, app, method, path, tokenForRole(t, role))
			if ok {
				assert.Equal(t, http.StatusOK, status, "%s debe poder usar %s", role, path)
				continue
			}
			assert.Equal(t, http.StatusForbidden, status, "%s no debe poder usar %s", role, path)
			assert.Equal(t, "FORBIDDEN", e.Code)
			assert.Contains(t, e.Message, role, "el mensaje nombra el rol rechazado")
		}
	}
}

func TestRequireRole_ComparaSinDistinguirMayusculas(t *testing.T) {
	status, _ := call(t, accessApp(testIssuer), http.MethodPost, "/vf/admin", tokenForRole(t, "ADMIN"))
	assert.Equal(t, http.StatusOK, status)
}

func TestRequireRole_TokenSinRolNoEntraNiALectura(t *testing.T) {
	status, e := call(t, accessApp(testIssuer), http.MethodGet, "/vf/lectura", tokenForRole(t, ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_ROLE", e.Code)
}

// ──────────────────────────────────────────────────────────────────────────────
// Emisor y empresa
// ──────────────────────────────────────────────────────────────────────────────

func TestAuthMiddleware_CargaIdentidadEnLocals(t *testing.T) {
	app := accessApp(testIssuer)
	req := httptest.NewRequest(http.MethodGet, "/vf/lectura", nil)
	req.Header.Set("Authorization", tokenForRole(t, apphttp.RoleOperador))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]string{
		"user_id":    testUserID,
		"company_id": testCompanyID,
		"role":       apphttp.RoleOperador,
	}, got)
}

func TestAuthMiddleware_Emisor(t *testing.T) {
	ajeno := signClaims(t, gojwt.SigningMethodHS256, []byte(testJWTSecret),
		claimsFor(apphttp.RoleAdmin, "erp-externo", time.Now().Add(time.Hour)))

	status, e := call(t, accessApp(testIssuer), http.MethodGet, "/vf/lectura", ajeno)
	assert.Equal(t, http.StatusUnauthorized, status, "un emisor distinto del configurado se rechaza")
	assert.Equal(t, "INVALID_TOKEN", e.Code)

	status, _ = call(t, accessApp(""), http.MethodGet, "/vf/lectura", ajeno)
	assert.Equal(t, http.StatusOK, status, "sin emisor configurado no se comprueba el claim iss")
}

func TestAuthMiddleware_TokenSinEmpresa(t *testing.T) {
	auth := bearer(t, pkgjwt.Identity{UserID: testUserID, Role: apphttp.RoleAdmin})
	status, e := call(t, accessApp(testIssuer), http.MethodGet, "/vf/lectura", auth)
	assert.Equal(t, http.StatusUnauthorized, status, "todas las rutas operan sobre la empresa del token")
	assert.Equal(t, "INVALID_TOKEN", e.Code)
	assert.Contains(t, e.Message, "company_id")
}

// ──────────────────────────────────────────────────────────────────────────────
// Tokens que no deben pasar
// ──────────────────────────────────────────────────────────────────────────────

func TestAuthMiddleware_CabeceraYFirma(t *testing.T) {
	vigente := claimsFor(apphttp.RoleAdmin, testIssuer, time.Now().Add(time.Hour))
	sinExp := vigente
	sinExp.ExpiresAt = nil

	cases := map[string]struct {
		auth string
		code string
	}{
		"sin cabecera":   {"", "MISSING_TOKEN"},
		"esquema Basic":  {"Basic dXNlcjpwYXNz", "INVALID_TOKEN"},
		"basura":         {"Bearer token.invalido.aqui", "INVALID_TOKEN"},
		"otro secreto":   {signClaims(t, gojwt.SigningMethodHS256, []byte("otro-secreto"), vigente), "INVALID_TOKEN"},
		"alg none":       {signClaims(t, gojwt.SigningMethodNone, gojwt.UnsafeAllowNoneSignatureType, vigente), "INVALID_TOKEN"},
		"HS512":          {signClaims(t, gojwt.SigningMethodHS512, []byte(testJWTSecret), vigente), "INVALID_TOKEN"},
		"caducado":       {signClaims(t, gojwt.SigningMethodHS256, []byte(testJWTSecret), claimsFor(apphttp.RoleAdmin, testIssuer, time.Now().Add(-time.Minute))), "INVALID_TOKEN"},
		"sin expiración": {signClaims(t, gojwt.SigningMethodHS256, []byte(testJWTSecret), sinExp), "INVALID_TOKEN"},
	}
	app := accessApp(testIssuer)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, e := call(t, app, http.MethodGet, "/vf/lectura", tc.auth)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, tc.code, e.Code)
		})
	}
}

func TestAuthMiddleware_EsquemaBearerSinDistinguirMayusculas(t *testing.T) {
	auth := "bearer " + tokenForRole(t, apphttp.RoleConsulta)[len("Bearer "):]
	status, _ := call(t, accessApp(testIssuer), http.MethodGet, "/vf/lectura", auth)
	assert.Equal(t, http.StatusOK, status)
}
