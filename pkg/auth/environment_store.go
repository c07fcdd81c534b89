package auth

import (
	"os"
	"time"
)

const (
	envEmail    = "UNSPLASHDL_EMAIL"
	envPassword = "UNSPLASHDL_PASSWORD"
)

// EnvironmentStore reads a single account from UNSPLASHDL_EMAIL and
// UNSPLASHDL_PASSWORD. It is read-only.
type EnvironmentStore struct {
	getenv func(string) string
}

// NewEnvironmentStore creates a store over the process environment
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{getenv: os.Getenv}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. An empty email matches it; any
// other email must equal UNSPLASHDL_EMAIL.
func (e *EnvironmentStore) Retrieve(email string) (*Account, error) {
	envMail := e.getenv(envEmail)
	password := e.getenv(envPassword)

	if envMail == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	if email != "" && email != envMail {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Email:        envMail,
		Password:     password,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(email string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for email
func (e *EnvironmentStore) Exists(email string) bool {
	_, err := e.Retrieve(email)
	return err == nil
}
