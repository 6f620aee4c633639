package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/expertlane/consult-backend/internal/config"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// Bootstraps the first operator account. Later accounts can be provisioned
// through the API by an existing admin.
func main() {
	var (
		dbURLFlag string
		email     string
		password  string
		fullName  string
		rolesFlag string
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&email, "email", "", "Operator email (required)")
	flag.StringVar(&password, "password", "", "Operator password (required, min 8 characters)")
	flag.StringVar(&fullName, "name", "", "Operator full name")
	flag.StringVar(&rolesFlag, "roles", "operator,admin", "Comma-separated roles")
	flag.Parse()

	// Load .env from the working directory when present, so secrets need
	// not be passed on the command line
	_ = godotenv.Load()

	if email == "" || password == "" {
		flag.Usage()
		log.Fatal("-email and -password are required")
	}
	if len(password) < 8 {
		log.Fatal("password must be at least 8 characters")
	}

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	dbCfg := config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}

	db, err := database.NewConnection(dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	var roles models.StringArray
	for _, role := range strings.Split(rolesFlag, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	operator := &models.Operator{
		Email:        email,
		PasswordHash: string(hashed),
		FullName:     fullName,
		Roles:        roles,
		IsActive:     true,
	}

	operatorRepo := database.NewOperatorRepository(db)
	if err := operatorRepo.Create(context.Background(), operator); err != nil {
		log.Fatalf("failed to create operator: %v", err)
	}

	fmt.Printf("Operator created: %s (%s) roles=%s\n", operator.Email, operator.ID, strings.Join(roles, ","))
}
