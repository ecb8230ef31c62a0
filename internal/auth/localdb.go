package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO
)

// LocalAuthData is the auth blob the Antigravity editor stores locally.
// Importing it lets a machine that already runs the editor join the pool
// without a separate OAuth flow.
type LocalAuthData struct {
	APIKey       string `json:"apiKey"`
	RefreshToken string `json:"refreshToken"`
	Email        string `json:"email"`
	Name         string `json:"name"`
}

// DefaultStateDBPath returns the editor's state database location for the
// current platform.
func DefaultStateDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Antigravity", "User", "globalStorage", "state.vscdb")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Antigravity", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(home, ".config", "Antigravity", "User", "globalStorage", "state.vscdb")
	}
}

// ReadLocalAuth extracts the stored auth status from the editor's SQLite
// state database. dbPath may be "" for the platform default.
func ReadLocalAuth(dbPath string) (*LocalAuthData, error) {
	if dbPath == "" {
		dbPath = DefaultStateDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("state database not found at %s; is the editor installed and logged in?", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no auth status in state database")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query state database: %w", err)
	}

	var data LocalAuthData
	if err := json.Unmarshal([]byte(value), &data); err != nil {
		return nil, fmt.Errorf("failed to parse auth status: %w", err)
	}
	if data.APIKey == "" && data.RefreshToken == "" {
		return nil, fmt.Errorf("auth status carries no usable credential")
	}
	return &data, nil
}
