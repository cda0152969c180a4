package common

import "context"

// Credentials are the username and password sent with AUTH
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether there is nothing to authenticate with
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// CredentialProvider returns the credentials used to authenticate a new connection.
// It is called for every fresh connection, so implementations may rotate secrets.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialProvider that always returns the same credentials
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// CredentialsFromConfig returns a provider for the username and password of
// the config, or nil if neither is set
func CredentialsFromConfig(c ClientConfig) CredentialProvider {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return StaticCredentials{Username: c.Username, Password: c.Password}
}
