// issue_token emite un Bearer Token para operar la API VeriFactu de una empresa.
// Firma con JWT_SECRET y JWT_ISSUER; la vigencia sale de JWT_EXPIRATION_MINUTES.
//
// Uso: go run ./cmd/issue_token <company_id> <admin|operador|consulta> [user_id]
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	httpapi "github.com/jhoicas/verifactu-dispatcher/internal/interfaces/http"
	"github.com/jhoicas/verifactu-dispatcher/pkg/config"
	"github.com/jhoicas/verifactu-dispatcher/pkg/jwt"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Uso: issue_token <company_id> <admin|operador|consulta> [user_id]")
		os.Exit(1)
	}
	companyID := strings.TrimSpace(os.Args[1])
	role := strings.ToLower(strings.TrimSpace(os.Args[2]))
	switch role {
	case httpapi.RoleAdmin, httpapi.RoleOperador, httpapi.RoleConsulta:
	default:
		fmt.Fprintf(os.Stderr, "Rol desconocido: %q\n", role)
		os.Exit(1)
	}
	userID := uuid.NewString()
	if len(os.Args) > 3 {
		userID = os.Args[3]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuración: %v\n", err)
		os.Exit(1)
	}
	ttl := time.Duration(cfg.JWT.Expiration) * time.Minute
	tok, err := jwt.Generate(cfg.JWT.Secret, jwt.Identity{UserID: userID, CompanyID: companyID, Role: role}, cfg.JWT.Issuer, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Firmar token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
