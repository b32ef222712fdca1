package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/larksolutions/queueing/internal/config"
	"github.com/larksolutions/queueing/internal/identity"
)

const tokenTTL = 12 * time.Hour

type user struct {
	identity.User
	PassHash string `json:"-"`
}

func main() {
	config.LoadEnv()
	cfg := config.LoadAuth()
	logger := log.New(os.Stdout, "[auth] ", log.LstdFlags|log.Lmicroseconds)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatalf("mkdir auth_data: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := initSchema(db); err != nil {
		logger.Fatalf("init schema: %v", err)
	}

	if cfg.BootstrapAdmin {
		if err := ensureAdmin(db, cfg.BootstrapUser, cfg.BootstrapPass); err != nil {
			logger.Printf("bootstrap admin: %v", err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "service": "auth"})
	})

	// Public: login. Issues a signed identity token the gateway
	// verifies before trusting the user record.
	r.Post("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var req identity.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, 400, "invalid json")
			return
		}
		u, err := getByUsername(db, req.Username)
		if errors.Is(err, sql.ErrNoRows) {
			writeErr(w, 401, "invalid credentials")
			return
		}
		if err != nil {
			logger.Printf("login lookup: %v", err)
			writeErr(w, 500, "db error")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PassHash), []byte(req.Password)) != nil {
			writeErr(w, 401, "invalid credentials")
			return
		}

		token, err := identity.SignToken(cfg.JWTSecret, u.User, tokenTTL)
		if err != nil {
			logger.Printf("sign token: %v", err)
			writeErr(w, 500, "token error")
			return
		}
		writeJSON(w, 200, identity.LoginResponse{Token: token, User: u.User})
	})

	// Internal: user management, guarded by the shared key.
	r.Post("/api/users", func(w http.ResponseWriter, r *http.Request) {
		if !internalOK(r, cfg.InternalKey) {
			writeErr(w, 403, "forbidden")
			return
		}
		var req identity.CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, 400, "invalid json")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeErr(w, 400, "username and password required")
			return
		}
		if !identity.ValidRole(req.Role) {
			writeErr(w, 400, "invalid role")
			return
		}

		created, err := createUser(db, req)
		if err != nil {
			writeErr(w, 400, "could not create user (username may exist)")
			return
		}
		writeJSON(w, 201, identity.CreateUserResponse{User: created})
	})

	r.Get("/api/users", func(w http.ResponseWriter, r *http.Request) {
		if !internalOK(r, cfg.InternalKey) {
			writeErr(w, 403, "forbidden")
			return
		}
		role := identity.Role(r.URL.Query().Get("role"))
		if role != "" && !identity.ValidRole(role) {
			writeErr(w, 400, "invalid role")
			return
		}
		users, err := listUsers(db, role)
		if err != nil {
			logger.Printf("list users: %v", err)
			writeErr(w, 500, "db error")
			return
		}
		writeJSON(w, 200, identity.ListUsersResponse{Users: users})
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Printf("listening on %s (db=%s)", cfg.Addr, cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL UNIQUE,
  pass_hash TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`)
	return err
}

func ensureAdmin(db *sql.DB, username, password string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE role=?`, identity.RoleAdmin).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := createUser(db, identity.CreateUserRequest{
		Username: username,
		Password: password,
		Name:     "Administrator",
		Role:     identity.RoleAdmin,
	})
	return err
}

func createUser(db *sql.DB, req identity.CreateUserRequest) (identity.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return identity.User{}, err
	}
	now := time.Now().UTC()
	res, err := db.Exec(
		`INSERT INTO users(username, pass_hash, name, email, role, created_at) VALUES(?,?,?,?,?,?)`,
		req.Username, string(hash), req.Name, req.Email, req.Role, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return identity.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return identity.User{}, err
	}
	return identity.User{
		ID:        id,
		Username:  req.Username,
		Name:      req.Name,
		Email:     req.Email,
		Role:      req.Role,
		CreatedAt: now,
	}, nil
}

func getByUsername(db *sql.DB, username string) (user, error) {
	var u user
	var created string
	err := db.QueryRow(
		`SELECT id, username, pass_hash, name, email, role, created_at FROM users WHERE username=?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PassHash, &u.Name, &u.Email, &u.Role, &created)
	if err != nil {
		return user{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		u.CreatedAt = t
	}
	return u, nil
}

func listUsers(db *sql.DB, role identity.Role) ([]identity.User, error) {
	q := `SELECT id, username, name, email, role, created_at FROM users`
	args := []any{}
	if role != "" {
		q += ` WHERE role=?`
		args = append(args, role)
	}
	q += ` ORDER BY username`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.User
	for rows.Next() {
		var u identity.User
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Role, &created); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			u.CreatedAt = t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func internalOK(r *http.Request, key string) bool {
	return key != "" && r.Header.Get("X-Internal-Key") == key
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
