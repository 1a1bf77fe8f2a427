//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sampleapp/apiserver/config"
	"github.com/sampleapp/apiserver/internal/db"
	"github.com/sampleapp/apiserver/internal/logging"
	"github.com/sampleapp/apiserver/internal/server"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

// noRedirect keeps 302 responses visible to the test.
var noRedirect = &http.Client{
	Timeout: 5 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

type authResponse struct {
	Token string `json:"token"`
	Next  string `json:"next"`
	User  struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"user"`
}

type messageResponse struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}
	setEnv(root)

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAdminDashboardAccess(t *testing.T) {
	email := fmt.Sprintf("admin_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	resp := doJSON(t, http.MethodGet, "/admin/user/?page=1", nil, "")
	expectStatus(t, resp, http.StatusFound)
	if got := resp.Header.Get("Location"); got != "/login?next=%2Fadmin%2Fuser%2F%3Fpage%3D1" {
		t.Fatalf("unexpected redirect: %q", got)
	}

	registered := register(t, email, password)

	resp = doJSON(t, http.MethodGet, "/admin/", nil, registered.Token)
	expectStatus(t, resp, http.StatusFound)

	if err := promoteUserToAdmin(email); err != nil {
		t.Fatalf("promote user: %v", err)
	}

	resp = doJSON(t, http.MethodGet, "/admin/", nil, registered.Token)
	expectStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodGet, "/admin/user/?search="+strings.Split(email, "@")[0], nil, registered.Token)
	expectStatus(t, resp, http.StatusOK)
	var page struct {
		Total int `json:"total"`
	}
	decodeBody(t, resp, &page)
	if page.Total != 1 {
		t.Fatalf("expected one match, got %d", page.Total)
	}

	resp = doJSON(t, http.MethodGet, "/admin/user/export", nil, registered.Token)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), email) {
		t.Fatalf("export does not contain %s", email)
	}
	if key := resp.Header.Get("X-Export-Key"); key != "" {
		resp = doJSON(t, http.MethodGet, "/admin/user/"+key, nil, registered.Token)
		expectStatus(t, resp, http.StatusOK)
	}
}

func TestLoginLogout(t *testing.T) {
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"
	register(t, email, password)

	resp := doJSON(t, http.MethodPost, "/login", map[string]any{"email": strings.ToUpper(email), "password": "wrong-password"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = doJSON(t, http.MethodPost, "/login?next=https://evil.example.com/", map[string]any{"email": email, "password": password}, "")
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodPost, "/login", map[string]any{"email": email, "password": password}, "")
	expectStatus(t, resp, http.StatusOK)
	var login authResponse
	decodeBody(t, resp, &login)

	resp = doJSON(t, http.MethodPost, "/logout", nil, login.Token)
	expectStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodGet, "/me", nil, login.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestForgotPassword(t *testing.T) {
	email := fmt.Sprintf("reset_%d@example.com", time.Now().UnixNano())
	register(t, email, "testpass123!")

	resp := doJSON(t, http.MethodPost, "/forgot-password", map[string]any{"email": email}, "")
	expectStatus(t, resp, http.StatusOK)
	var first messageResponse
	decodeBody(t, resp, &first)
	if first.Message != "Please check your mailbox for reset password email" {
		t.Fatalf("unexpected message: %q", first.Message)
	}

	resp = doJSON(t, http.MethodPost, "/forgot-password", map[string]any{"email": email}, "")
	expectStatus(t, resp, http.StatusOK)
	var second messageResponse
	decodeBody(t, resp, &second)
	if second.Category != "warning" {
		t.Fatalf("expected cooldown warning, got %+v", second)
	}

	resp = doJSON(t, http.MethodPost, "/forgot-password", map[string]any{"email": "nobody@example.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	var unknown messageResponse
	decodeBody(t, resp, &unknown)
	if unknown != first {
		t.Fatalf("unknown email answered differently: %+v", unknown)
	}

	resp = doJSON(t, http.MethodPost, "/reset-password?token=garbage", map[string]any{"password": "newpass123!", "confirm": "newpass123!"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func register(t *testing.T, email, password string) authResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/register", map[string]any{
		"email":    email,
		"password": password,
		"confirm":  password,
	}, "")
	expectStatus(t, resp, http.StatusCreated)

	var parsed authResponse
	decodeBody(t, resp, &parsed)
	if parsed.Token == "" {
		t.Fatalf("missing token in register response")
	}
	return parsed
}

func doJSON(t *testing.T, method, path string, payload any, token string) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, strings.TrimSpace(string(msg)))
	}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO roles_users (user_id, role_id)
		SELECT u.id, r.id FROM users u, roles r
		WHERE lower(u.email) = lower($1) AND r.name = 'admin'
		ON CONFLICT DO NOTHING`, email)
	return err
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations() error {
	cfg := config.LoadConfig()
	migrator, err := migrate.New("file://"+cfg.MigrationsPath, db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setEnv(root string) {
	_ = os.Setenv("SECRET_KEY", "e2e-secret-key-that-is-long-enough-0123")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("BASE_URL", baseURL)
	_ = os.Setenv("MIGRATIONS_PATH", filepath.Join(root, "internal", "db", "migrations"))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "sampleapp")
	_ = os.Setenv("DB_PASSWORD", "sampleapp")
	_ = os.Setenv("DB_NAME", "sampleapp")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_ = os.Setenv("MAIL_BACKEND", "log")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "sampleapp")
}

func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, logging.New("warn", "console"))
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
