package auth

import (
	"database/sql"
	"time"
)

const (
	MaxFailedLoginAttempts = 10
	AccountLockoutDuration = 15 * time.Minute
)

// IncrementFailedLoginAttempts bumps the failed login counter and locks the
// account once the threshold is hit.
func IncrementFailedLoginAttempts(db *sql.DB, username string) error {
	_, err := db.Exec(`
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= ? THEN datetime('now', '+15 minutes')
		        ELSE locked_until
		    END
		WHERE username = ?`, MaxFailedLoginAttempts, username)
	return err
}

// ResetFailedLoginAttempts clears the counter after a successful login.
func ResetFailedLoginAttempts(db *sql.DB, username string) error {
	_, err := db.Exec(`
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL
		WHERE username = ?`, username)
	return err
}

// IsAccountLocked reports whether an account is currently locked. An
// expired lock is cleared as a side effect.
func IsAccountLocked(db *sql.DB, username string) (bool, error) {
	var lockedUntil *string
	err := db.QueryRow("SELECT locked_until FROM users WHERE username = ?", username).Scan(&lockedUntil)
	if err != nil {
		return false, err
	}
	if lockedUntil == nil {
		return false, nil
	}

	var lockTime time.Time
	var parseErr error
	for _, format := range []string{time.RFC3339, "2006-01-02 15:04:05", time.RFC3339Nano} {
		lockTime, parseErr = time.Parse(format, *lockedUntil)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return false, nil
	}

	if time.Now().Before(lockTime) {
		return true, nil
	}
	ResetFailedLoginAttempts(db, username)
	return false, nil
}
